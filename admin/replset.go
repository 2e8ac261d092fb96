package admin

import (
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Config structures

// ReplSetMember is one member document of a replica set configuration.
// Fields the role does not manage are carried in Extra so a reconfig does
// not drop them.
type ReplSetMember struct {
	ID          int     `bson:"_id" json:"id"`
	Host        string  `bson:"host" json:"host"`
	ArbiterOnly bool    `bson:"arbiterOnly" json:"arbiter_only"`
	Priority    float64 `bson:"priority" json:"priority"`
	Hidden      bool    `bson:"hidden" json:"hidden"`
	Votes       *int    `bson:"votes,omitempty" json:"votes,omitempty"`
	Extra       bson.M  `bson:",inline" json:"-"`
}

type ReplSetConfig struct {
	ID      string          `bson:"_id" json:"id"`
	Version int             `bson:"version" json:"version"`
	Members []ReplSetMember `bson:"members" json:"members"`
	Extra   bson.M          `bson:",inline" json:"-"`
}

// Member returns the member with the given host, or nil.
func (c *ReplSetConfig) Member(host string) *ReplSetMember {
	for i := range c.Members {
		if c.Members[i].Host == host {
			return &c.Members[i]
		}
	}
	return nil
}

// NextID returns the lowest _id greater than every member's _id.
func (c *ReplSetConfig) NextID() int {
	next := 0
	for _, m := range c.Members {
		if m.ID >= next {
			next = m.ID + 1
		}
	}
	return next
}

// Clone returns a deep copy of c suitable for modification and reconfig.
func (c *ReplSetConfig) Clone() ReplSetConfig {
	out := *c
	out.Members = make([]ReplSetMember, len(c.Members))
	for i, m := range c.Members {
		if m.Votes != nil {
			v := *m.Votes
			m.Votes = &v
		}
		m.Extra = cloneM(m.Extra)
		out.Members[i] = m
	}
	out.Extra = cloneM(c.Extra)
	// term is assigned by the primary and must not be echoed back.
	delete(out.Extra, "term")
	return out
}

func cloneM(m bson.M) bson.M {
	if m == nil {
		return nil
	}
	out := make(bson.M, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Hosts returns the member hosts in configuration order.
func (c *ReplSetConfig) Hosts() []string {
	hosts := make([]string, len(c.Members))
	for i, m := range c.Members {
		hosts[i] = m.Host
	}
	return hosts
}

// Status structures

type ReplicaState int

// MongoDB replica set member states
// See: https://www.mongodb.com/docs/manual/reference/replica-states/
const (
	Startup    ReplicaState = 0
	Primary    ReplicaState = 1
	Secondary  ReplicaState = 2
	Recovering ReplicaState = 3
	// Note: State 4 is reserved and not used
	Startup2 ReplicaState = 5
	Unknown  ReplicaState = 6
	Arbiter  ReplicaState = 7
	Down     ReplicaState = 8
	Rollback ReplicaState = 9
	Removed  ReplicaState = 10
)

var stateNames = map[ReplicaState]string{
	Startup:    "STARTUP",
	Primary:    "PRIMARY",
	Secondary:  "SECONDARY",
	Recovering: "RECOVERING",
	Startup2:   "STARTUP2",
	Unknown:    "UNKNOWN",
	Arbiter:    "ARBITER",
	Down:       "DOWN",
	Rollback:   "ROLLBACK",
	Removed:    "REMOVED",
}

func (s ReplicaState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

type ReplSetOptime struct {
	Timestamp primitive.Timestamp `bson:"ts" json:"-"`
	Term      int64               `bson:"t" json:"term"`
}

type ReplSetStatusMember struct {
	ID     int           `bson:"_id" json:"id"`
	Name   string        `bson:"name" json:"name"`
	Health float64       `bson:"health" json:"health"`
	Optime ReplSetOptime `bson:"optime" json:"optime"`
	State  ReplicaState  `bson:"state" json:"state"`
}

type ReplSetStatus struct {
	Set     string                `bson:"set" json:"set"`
	MyState ReplicaState          `bson:"myState" json:"my_state"`
	Members []ReplSetStatusMember `bson:"members" json:"members"`
}
