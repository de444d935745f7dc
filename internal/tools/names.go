// ABOUTME: Closed enums for tool names, expressions and memory categories.
// ABOUTME: AllNames fixes the registration order

package tools

import "slices"

// Name identifies a tool.
type Name string

const (
	SearchMemories    Name = "search_memories"
	GetRecentMemories Name = "get_recent_memories"
	StoreMemory       Name = "store_memory"
	DeleteMemory      Name = "delete_memory"
	SearchSelf        Name = "search_self"
	StoreSelf         Name = "store_self"
	DeleteSelf        Name = "delete_self"
	SearchGoals       Name = "search_goals"
	StoreGoal         Name = "store_goal"
	DeleteGoal        Name = "delete_goal"
	SearchNotes       Name = "search_notes"
	GetNote           Name = "get_note"
	Respond           Name = "respond"
)

// AllNames lists every tool in registration order.
var AllNames = []Name{
	SearchMemories, GetRecentMemories, StoreMemory, DeleteMemory,
	SearchSelf, StoreSelf, DeleteSelf,
	SearchGoals, StoreGoal, DeleteGoal,
	SearchNotes, GetNote,
	Respond,
}

// Expression is the avatar expression chosen with a response.
type Expression string

const (
	Neutral   Expression = "neutral"
	Happy     Expression = "happy"
	Laughing  Expression = "laughing"
	Surprised Expression = "surprised"
	Sad       Expression = "sad"
	Sleepy    Expression = "sleepy"
	Curious   Expression = "curious"
)

// Expressions lists the valid expressions.
var Expressions = []Expression{Neutral, Happy, Laughing, Surprised, Sad, Sleepy, Curious}

// Valid reports whether e is one of Expressions.
func (e Expression) Valid() bool {
	return slices.Contains(Expressions, e)
}

// SelfCategories classify self-knowledge.
var SelfCategories = []string{"context", "capability", "limitation", "preference", "relation"}

// GoalCategories classify goals.
var GoalCategories = []string{"capability_request", "understanding", "connection", "curiosity"}

// TTLs accepted by store_memory, in days.
var memoryTTLs = map[string]int{"7d": 7, "30d": 30, "90d": 90}
