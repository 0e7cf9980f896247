// Package sapling keeps a tree-sitter syntax tree for every open editor
// buffer and keeps it in step with live edits without blocking the caller.
//
// # Events
//
// The host reports two classes of events. Lifecycle events (open, reload,
// revert, close) carry a buffer's full text. Edit events carry the ordered
// changes of one keystroke or paste together with the text after them.
// [Engine.Load], [Engine.Edit] and [Engine.CloseBuffer] only enqueue; parsing
// happens on one worker goroutine per event class, each with its own parser.
//
// For one buffer, writes apply in the order events were admitted. An edit
// waits for any earlier lifecycle event of the same buffer; an event older
// than the buffer's last write is dropped as superseded.
//
// # Trees
//
// Edits are applied incrementally: the cached tree is copied, the copy is
// told about each change, and the parser reuses every subtree the changes did
// not touch. When replaying the changes on the cached text does not reproduce
// the text the host sent, the buffer is parsed from scratch instead.
//
// At most 16 trees are cached by default ([WithMaxTrees] changes the bound);
// the least recently updated tree is evicted first.
//
// Reads never parse. A buffer whose tree was evicted, or whose scope had no
// grammar when its last event arrived, stays without a tree until the host
// reports another event for it; a Load with the full text is the way to get
// one back. [Engine.GetTree] returns a copy per call, so readers on separate
// goroutines can walk trees at the same time.
//
// # Usage
//
//	reg := grammar.NewRegistry()
//	grammar.NewProvisioner(reg).Provision([]string{"python"})
//
//	e := sapling.New(reg)
//	defer e.Close()
//
//	e.Subscribe(func(n sapling.Notification) {
//		tree, _ := e.GetTree(n.BufferID)
//		fmt.Println(tree)
//	})
//	e.Load(1, "source.python", "x = 1\n")
//	e.Edit(1, "source.python", []sapling.Change{{Offset: 0, Text: "y"}}, "yx = 1\n")
//
// Ad hoc callers that have no buffer use [Engine.ParseString] and
// [Engine.EditTree], which parse synchronously and report
// [ErrUnsupportedScope] for scopes without a grammar.
package sapling
