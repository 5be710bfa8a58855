package synth

import (
	"math/rand/v2"

	"github.com/nvandessel/pdpsim/internal/constants"
	"github.com/nvandessel/pdpsim/internal/models"
)

// Injection rewrites a legitimate transaction into an adversarial one.
// Implementations only touch the fields their scenario names.
type Injection func(tx models.Transaction, ctx models.Context, r *rand.Rand) (models.Transaction, models.Context)

// Injections maps every scenario to its transform.
var Injections = map[models.Scenario]Injection{
	models.ScenarioCredentialCompromise: CredentialCompromise,
	models.ScenarioInsiderMovement:      InsiderMovement,
	models.ScenarioAPIAbuse:             APIAbuse,
	models.ScenarioMoneyLaundering:      MoneyLaundering,
	models.ScenarioSessionHijacking:     SessionHijacking,
}

// Inject applies the scenario's transform and marks the result as an attack.
func Inject(s models.Scenario, tx models.Transaction, ctx models.Context, r *rand.Rand) (models.Transaction, models.Context) {
	fn, ok := Injections[s]
	if !ok {
		return tx, ctx
	}
	tx, ctx = fn(tx, ctx, r)
	tx.IsAttack = true
	tx.Scenario = s
	return tx, ctx
}

// CredentialCompromise moves the request to a high-risk region at a random
// hour and inflates the amount 5x to 50x.
func CredentialCompromise(tx models.Transaction, ctx models.Context, r *rand.Rand) (models.Transaction, models.Context) {
	ctx.Geo = pick(r, constants.HighRiskGeos)
	ctx.Hour = r.IntN(24)
	tx.Amount *= 5 + 45*r.Float64()
	return tx, ctx
}

// InsiderMovement retargets the request at a back-office service.
func InsiderMovement(tx models.Transaction, ctx models.Context, r *rand.Rand) (models.Transaction, models.Context) {
	tx.Service = pick(r, constants.InsiderServices)
	return tx, ctx
}

// APIAbuse forces the API channel.
func APIAbuse(tx models.Transaction, ctx models.Context, _ *rand.Rand) (models.Transaction, models.Context) {
	ctx.Channel = models.ChannelAPI
	return tx, ctx
}

// MoneyLaundering replaces the amount with one just under the 10000
// reporting threshold.
func MoneyLaundering(tx models.Transaction, ctx models.Context, r *rand.Rand) (models.Transaction, models.Context) {
	tx.Amount = 9000 + 1000*r.Float64()
	return tx, ctx
}

// SessionHijacking replays the session from a mixed set of regions at a
// random hour.
func SessionHijacking(tx models.Transaction, ctx models.Context, r *rand.Rand) (models.Transaction, models.Context) {
	ctx.Geo = pick(r, constants.HijackGeos)
	ctx.Hour = r.IntN(24)
	return tx, ctx
}

func pick[T any](r *rand.Rand, xs []T) T {
	return xs[r.IntN(len(xs))]
}
