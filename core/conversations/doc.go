// Package conversations owns the conversation state machine and its context.
//
// All mutation goes through Manager methods, which serialize on one mutex; no
// transition is ever observed half-applied. The context ring buffer is owned
// exclusively by the Manager and external readers only ever receive deep
// copies. An interrupt arriving concurrently with a response completion always
// wins: whichever caller takes the lock second finds the turn already
// committed and becomes a logged no-op, so a turn can never be recorded as
// both complete and interrupted.
package conversations
