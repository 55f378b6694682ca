package autoqueue

import (
	"context"

	zlog "github.com/rs/zerolog/log"
)

// QueuePosition reports how many queue entries are left to play, the current one included.
// ok is false when the host cannot tell.
type QueuePosition interface {
	Remaining(ctx context.Context) (remaining int, ok bool)
}

// PositionNotifier notifies listeners when the playback position moves to another queue entry.
type PositionNotifier interface {
	// OnPositionChanged registers fn and returns a function that unregisters it.
	OnPositionChanged(fn func()) (detach func())
}

// EntriesPlayed is implemented by hosts that count queue entries and finished entries.
type EntriesPlayed interface {
	QueueEntries(ctx context.Context) (entries, played int, err error)
}

// CursorCount is implemented by hosts that expose the index of the current entry
// and the queue length. cursor is negative when nothing is current.
type CursorCount interface {
	QueueCursor(ctx context.Context) (cursor, count int, err error)
}

// QueuePositionFunc adapts a function to QueuePosition.
type QueuePositionFunc func(ctx context.Context) (int, bool)

// Remaining implements QueuePosition.
func (f QueuePositionFunc) Remaining(ctx context.Context) (int, bool) { return f(ctx) }

// FromEntriesPlayed adapts an EntriesPlayed host.
func FromEntriesPlayed(src EntriesPlayed) QueuePosition {
	return QueuePositionFunc(func(ctx context.Context) (int, bool) {
		entries, played, err := src.QueueEntries(ctx)
		if err != nil {
			zlog.Debug().Msgf("queue position unavailable: error=%v", err)
			return 0, false
		}
		if entries < 0 || played < 0 || played > entries {
			return 0, false
		}
		return entries - played, true
	})
}

// FromCursorCount adapts a CursorCount host.
func FromCursorCount(src CursorCount) QueuePosition {
	return QueuePositionFunc(func(ctx context.Context) (int, bool) {
		cursor, count, err := src.QueueCursor(ctx)
		if err != nil {
			zlog.Debug().Msgf("queue position unavailable: error=%v", err)
			return 0, false
		}
		if cursor < 0 || cursor >= count {
			return 0, false
		}
		return count - cursor, true
	})
}

// DetectPosition returns the QueuePosition supported by host, preferring the
// entries/played pair. It returns nil when host supports neither.
func DetectPosition(host any) QueuePosition {
	switch h := host.(type) {
	case QueuePosition:
		return h
	case EntriesPlayed:
		return FromEntriesPlayed(h)
	case CursorCount:
		return FromCursorCount(h)
	default:
		return nil
	}
}
