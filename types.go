package sapling

import (
	"github.com/jward/sapling/internal/publish"
	"github.com/jward/sapling/internal/syntax"
)

// Public type aliases for the internal types used in the Engine API.
// External consumers use these names; no conversion is needed.

type Tree = syntax.Tree
type Change = syntax.Change
type Capture = syntax.Capture
type Match = syntax.Match
type Notification = publish.Notification
type Subscriber = publish.Subscriber
type Subscription = publish.Subscription
