// Package population generates the users and devices a simulation run draws
// events from.
package population

import (
	"fmt"
	"math/rand/v2"

	"github.com/nvandessel/pdpsim/internal/models"
)

// Population is the fixed set of principals and endpoints of one run.
type Population struct {
	Users   []models.User
	Devices []models.Device

	byOwner map[int][]int // user id -> indexes into Devices
}

// Validate rejects counts that cannot produce a population.
func Validate(numUsers, numDevices int) error {
	if numUsers < 0 {
		return fmt.Errorf("num_users must be non-negative, got %d", numUsers)
	}
	if numDevices < 0 {
		return fmt.Errorf("num_devices must be non-negative, got %d", numDevices)
	}
	if numUsers == 0 && numDevices > 0 {
		return fmt.Errorf("num_devices is %d but there are no users to own them", numDevices)
	}
	return nil
}

// Generate draws a population from r. Every user is given one device first;
// surplus devices go to uniformly random owners. When numDevices is below
// numUsers every user still receives one device.
func Generate(r *rand.Rand, numUsers, numDevices int) Population {
	users := make([]models.User, numUsers)
	for i := range users {
		u := models.User{ID: i}
		if r.Float64() < 0.5 {
			u.Type = models.UserTypeCustomer
			u.BaseRisk = uniform(r, 0.1, 0.5)
		} else {
			u.Type = models.UserTypeEmployee
			u.BaseRisk = uniform(r, 0.05, 0.3)
		}
		users[i] = u
	}

	total := max(numDevices, numUsers)
	devices := make([]models.Device, 0, total)
	for i := 0; i < numUsers; i++ {
		devices = append(devices, models.Device{ID: i, OwnerID: i})
	}
	for id := numUsers; id < total; id++ {
		devices = append(devices, models.Device{ID: id, OwnerID: r.IntN(numUsers)})
	}

	p := Population{Users: users, Devices: devices}
	p.index()
	return p
}

func (p *Population) index() {
	p.byOwner = make(map[int][]int, len(p.Users))
	for i, d := range p.Devices {
		p.byOwner[d.OwnerID] = append(p.byOwner[d.OwnerID], i)
	}
}

// DevicesOf returns the devices owned by a user, in id order.
func (p Population) DevicesOf(userID int) []models.Device {
	idx := p.byOwner[userID]
	out := make([]models.Device, len(idx))
	for i, j := range idx {
		out[i] = p.Devices[j]
	}
	return out
}

// DeviceCount returns how many devices a user owns.
func (p Population) DeviceCount(userID int) int {
	return len(p.byOwner[userID])
}

// DeviceAt returns the n-th device of a user without allocating.
func (p Population) DeviceAt(userID, n int) models.Device {
	return p.Devices[p.byOwner[userID][n]]
}

func uniform(r *rand.Rand, lo, hi float64) float64 {
	return lo + (hi-lo)*r.Float64()
}
