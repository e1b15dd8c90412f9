// Package pressure tracks per-model resident memory and recommends which
// models to evict when total usage exceeds the budget. Recommendations are
// advisory: the lifecycle coordinator decides whether to act on them.
package pressure

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v4/mem"

	"inferd/pkg/types"
)

// DefaultBudgetFraction of available system memory used when none is given.
const DefaultBudgetFraction = 0.8

// fallbackAvailableBytes is assumed when system memory cannot be sampled.
const fallbackAvailableBytes = 8 << 30

type record struct {
	residentBytes uint64
	lastUsed      time.Time
	accessCount   uint64
}

// Manager tracks registered models under a fixed memory budget. The budget is
// sampled once at construction and changes only via SetBudget.
type Manager struct {
	mu      sync.Mutex
	records map[string]*record
	budget  uint64
	log     zerolog.Logger

	// now is swappable for urgency-score tests.
	now func() time.Time
}

// New samples available system memory and budgets the given fraction of it.
// A non-positive fraction selects DefaultBudgetFraction.
func New(fraction float64, log zerolog.Logger) *Manager {
	if fraction <= 0 {
		fraction = DefaultBudgetFraction
	}
	budget := uint64(float64(availableMemory()) * fraction)
	m := NewWithBudget(budget, log)
	log.Info().Str("budget", FormatBytes(budget)).Msg("memory pressure manager initialized")
	return m
}

// NewWithBudget constructs a Manager with an explicit budget in bytes.
func NewWithBudget(budget uint64, log zerolog.Logger) *Manager {
	return &Manager{
		records: make(map[string]*record),
		budget:  budget,
		log:     log,
		now:     time.Now,
	}
}

func availableMemory() uint64 {
	vm, err := mem.VirtualMemory()
	if err != nil || vm.Available == 0 {
		return fallbackAvailableBytes
	}
	return vm.Available
}

// Register starts tracking a model. Returns false when the model is already
// tracked; the existing record is left untouched.
func (m *Manager) Register(modelID string, residentBytes uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[modelID]; ok {
		m.log.Warn().Str("model", modelID).Msg("model memory already registered")
		return false
	}
	m.records[modelID] = &record{residentBytes: residentBytes, lastUsed: m.now()}
	residentBytesGauge.Add(float64(residentBytes))
	m.log.Info().Str("model", modelID).Str("resident", FormatBytes(residentBytes)).Msg("registered model memory")
	return true
}

// Touch refreshes last-use time and bumps the access count. Untracked ids are
// ignored.
func (m *Manager) Touch(modelID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[modelID]; ok {
		rec.lastUsed = m.now()
		rec.accessCount++
	}
}

// Unregister stops tracking a model. Returns whether it was tracked.
func (m *Manager) Unregister(modelID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[modelID]
	if !ok {
		return false
	}
	delete(m.records, modelID)
	residentBytesGauge.Sub(float64(rec.residentBytes))
	m.log.Info().Str("model", modelID).Str("freed", FormatBytes(rec.residentBytes)).Msg("unregistered model memory")
	return true
}

// TotalBytes is the sum of resident bytes over all tracked models.
func (m *Manager) TotalBytes() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalLocked()
}

func (m *Manager) totalLocked() uint64 {
	var total uint64
	for _, rec := range m.records {
		total += rec.residentBytes
	}
	return total
}

// Budget returns the current budget in bytes.
func (m *Manager) Budget() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.budget
}

// SetBudget is the administrative override; the budget never auto-adjusts.
func (m *Manager) SetBudget(budget uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.budget = budget
	m.log.Info().Str("budget", FormatBytes(budget)).Msg("memory budget overridden")
}

// CheckPressure reports whether total usage exceeds the budget and, if so,
// which models to evict. Candidates are ranked by urgency score
// idleSeconds/(accessCount+1): long-idle, rarely-accessed models first. The
// greedy selection stops once projected usage fits the budget. Ties break by
// model id so the recommendation is deterministic.
func (m *Manager) CheckPressure() (bool, []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := m.totalLocked()
	if total <= m.budget {
		return false, nil
	}

	type candidate struct {
		id    string
		score float64
	}
	now := m.now()
	candidates := make([]candidate, 0, len(m.records))
	for id, rec := range m.records {
		idle := now.Sub(rec.lastUsed).Seconds()
		candidates = append(candidates, candidate{
			id:    id,
			score: idle / float64(rec.accessCount+1),
		})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].id < candidates[j].id
	})

	var selected []string
	remaining := total
	for _, c := range candidates {
		if remaining <= m.budget {
			break
		}
		selected = append(selected, c.id)
		remaining -= m.records[c.id].residentBytes
	}

	m.log.Warn().
		Str("usage", FormatBytes(total)).
		Str("budget", FormatBytes(m.budget)).
		Int("recommended", len(selected)).
		Msg("memory pressure detected")
	return true, selected
}

// Stats builds the memory report for the HTTP layer.
func (m *Manager) Stats() types.MemoryStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := m.totalLocked()
	sysAvail := availableMemory()
	st := types.MemoryStats{
		TotalModels:      len(m.records),
		TotalBytes:       total,
		FormattedUsage:   FormatBytes(total),
		BudgetBytes:      m.budget,
		FormattedBudget:  FormatBytes(m.budget),
		MemoryPressure:   total > m.budget,
		SystemAvailable:  sysAvail,
		FormattedSysFree: FormatBytes(sysAvail),
	}
	st.Models = make([]types.ModelMemoryStats, 0, len(m.records))
	for id, rec := range m.records {
		st.Models = append(st.Models, types.ModelMemoryStats{
			Name:           id,
			ResidentBytes:  rec.residentBytes,
			FormattedUsage: FormatBytes(rec.residentBytes),
			LastUsedUnix:   rec.lastUsed.Unix(),
			AccessCount:    rec.accessCount,
		})
	}
	sort.Slice(st.Models, func(i, j int) bool { return st.Models[i].Name < st.Models[j].Name })
	return st
}

// FormatBytes renders a byte count in a human-readable unit.
func FormatBytes(size uint64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := uint64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}
