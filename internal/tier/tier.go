package tier

import (
	"go.uber.org/zap"

	"github.com/quillmem/synapse/internal/graph"
)

// Manager moves nodes across residency tiers from their current salience.
type Manager struct {
	store  *graph.Store
	log    *Log
	hot    float64
	warm   float64
	logger *zap.Logger
}

// NewManager creates a tier manager. hot and warm are the salience
// thresholds for the respective tiers; anything below warm hibernates.
func NewManager(store *graph.Store, log *Log, hot, warm float64, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{store: store, log: log, hot: hot, warm: warm, logger: logger}
}

// Maintain reassigns tiers in one pass. The log is flushed first so cold
// reads always find their record on disk. Nodes without a persisted record
// stay resident. Returns the number of moves per direction.
func (m *Manager) Maintain() (promoted, demoted, hibernated int) {
	if err := m.log.Sync(); err != nil {
		m.logger.Warn("log flush before tier pass", zap.Error(err))
		return 0, 0, 0
	}

	type move struct {
		id     int64
		from   graph.Tier
		to     graph.Tier
		offset int64
	}
	var moves []move

	m.store.ForEachStatus(graph.StatusActive, func(n graph.Node) bool {
		target := m.targetTier(n.Salience)
		if target == n.Tier {
			return true
		}
		mv := move{id: n.ID, from: n.Tier, to: target}
		if target == graph.TierCold {
			off, ok := m.log.Offset(n.ID)
			if !ok {
				return true
			}
			mv.offset = off
		}
		moves = append(moves, mv)
		return true
	})

	for _, mv := range moves {
		if mv.from == graph.TierCold {
			// Page the value back in before promoting.
			if _, ok := m.store.Node(mv.id); !ok {
				continue
			}
		}
		m.store.SetTier(mv.id, mv.to, mv.offset)
		switch {
		case mv.to == graph.TierCold:
			hibernated++
		case mv.to < mv.from:
			promoted++
		default:
			demoted++
		}
	}

	if len(moves) > 0 {
		m.logger.Debug("tier maintenance",
			zap.Int("promoted", promoted),
			zap.Int("demoted", demoted),
			zap.Int("hibernated", hibernated))
	}
	return promoted, demoted, hibernated
}

func (m *Manager) targetTier(salience float64) graph.Tier {
	switch {
	case salience >= m.hot:
		return graph.TierHot
	case salience >= m.warm:
		return graph.TierWarm
	default:
		return graph.TierCold
	}
}
