package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Module identifiers for event topics.
const (
	ModGuild     = "guild"
	ModBounty    = "bounty"
	ModMilestone = "milestone"
	ModLedger    = "ledger"
	ModDispute   = "dispute"
)

// Action identifiers shared across modules.
const (
	ActCreated   = "created"
	ActFunded    = "funded"
	ActClaimed   = "claimed"
	ActSubmitted = "submitted"
	ActApproved  = "approved"
	ActRejected  = "rejected"
	ActReleased  = "released"
	ActCancelled = "cancelled"
	ActExpired   = "expired"
	ActStarted   = "started"
	ActAdded     = "added"
	ActRemoved   = "removed"
	ActUpdated   = "updated"
	ActExtended  = "extended"
	ActDeposited = "deposited"
	ActLocked    = "locked"
	ActUnlocked  = "unlocked"
	ActCompleted = "completed"
)

// Writer appends notification events inside the caller's transaction. The
// autoincrement row id doubles as the global monotonic sequence number, so
// subscribers can detect gaps.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

func (w Writer) Append(ctx context.Context, tx *sql.Tx, module, action string, guildID int64, entityKind string, entityID int64, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,module,action,guild_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?,?)`,
		ts, module, action, nullableID(guildID), entityKind, nullableID(entityID), actorID, string(data))
	return err
}

func nullableID(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}
