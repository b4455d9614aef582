package errors

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Warning is a non-blocking diagnostic collected during a pass.
type Warning struct {
	Code      string
	Component string
	File      string
	Message   string
	Timestamp time.Time
}

// String returns a single-line rendering of the warning.
func (w Warning) String() string {
	if w.File != "" {
		return fmt.Sprintf("%s: %s: %s", w.Component, w.File, w.Message)
	}
	return fmt.Sprintf("%s: %s", w.Component, w.Message)
}

// WarningCollector collects warnings from concurrent stages.
type WarningCollector struct {
	warnings []Warning
	mutex    sync.RWMutex
}

// NewWarningCollector creates a new warning collector
func NewWarningCollector() *WarningCollector {
	return &WarningCollector{
		warnings: make([]Warning, 0),
	}
}

// Add adds a warning to the collector
func (wc *WarningCollector) Add(w Warning) {
	wc.mutex.Lock()
	defer wc.mutex.Unlock()
	w.Timestamp = time.Now()
	wc.warnings = append(wc.warnings, w)
}

// Addf records a formatted warning for a component.
func (wc *WarningCollector) Addf(code, component, format string, args ...interface{}) {
	wc.Add(Warning{Code: code, Component: component, Message: fmt.Sprintf(format, args...)})
}

// Warnings returns the collected warnings ordered by component, file and
// message so reports are stable across runs.
func (wc *WarningCollector) Warnings() []Warning {
	wc.mutex.RLock()
	defer wc.mutex.RUnlock()
	result := make([]Warning, len(wc.warnings))
	copy(result, wc.warnings)
	sort.SliceStable(result, func(i, j int) bool {
		if result[i].Component != result[j].Component {
			return result[i].Component < result[j].Component
		}
		if result[i].File != result[j].File {
			return result[i].File < result[j].File
		}
		return result[i].Message < result[j].Message
	})
	return result
}

// Len returns the number of collected warnings.
func (wc *WarningCollector) Len() int {
	wc.mutex.RLock()
	defer wc.mutex.RUnlock()
	return len(wc.warnings)
}

// Clear clears all warnings
func (wc *WarningCollector) Clear() {
	wc.mutex.Lock()
	defer wc.mutex.Unlock()
	wc.warnings = wc.warnings[:0]
}
