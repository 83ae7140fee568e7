package tool

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	// LeaveBalanceToolID is the leave balance lookup tool identifier.
	LeaveBalanceToolID = "records.leave_balance"

	// CoverageToolID is the insurance coverage lookup tool identifier.
	CoverageToolID = "records.coverage"
)

// LeaveBalance is one employee's remaining leave.
type LeaveBalance struct {
	AnnualDays float64
	SickDays   float64
	AsOf       time.Time
}

// Coverage is one employee's insurance enrollment.
type Coverage struct {
	Plan       string
	Dependents int
	Dental     bool
	Vision     bool
	Deductible int
}

// HRRecords is an in-memory record store keyed by employee ID.
type HRRecords struct {
	mu       sync.RWMutex
	leave    map[string]LeaveBalance
	coverage map[string]Coverage
}

// NewHRRecords creates an empty record store.
func NewHRRecords() *HRRecords {
	return &HRRecords{
		leave:    make(map[string]LeaveBalance),
		coverage: make(map[string]Coverage),
	}
}

// SampleHRRecords returns a store seeded with demo employees.
func SampleHRRecords() *HRRecords {
	r := NewHRRecords()
	asOf := time.Now().UTC().Truncate(24 * time.Hour)
	r.SetLeave("emp-1001", LeaveBalance{AnnualDays: 12.5, SickDays: 8, AsOf: asOf})
	r.SetLeave("emp-1002", LeaveBalance{AnnualDays: 3, SickDays: 10, AsOf: asOf})
	r.SetCoverage("emp-1001", Coverage{Plan: "standard", Dependents: 2, Dental: true, Vision: false, Deductible: 500})
	r.SetCoverage("emp-1002", Coverage{Plan: "premium", Dependents: 0, Dental: true, Vision: true, Deductible: 0})
	return r
}

// SetLeave stores a leave balance.
func (r *HRRecords) SetLeave(employeeID string, b LeaveBalance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leave[employeeID] = b
}

// Leave returns the leave balance for an employee.
func (r *HRRecords) Leave(employeeID string) (LeaveBalance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.leave[employeeID]
	return b, ok
}

// SetCoverage stores a coverage record.
func (r *HRRecords) SetCoverage(employeeID string, c Coverage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.coverage[employeeID] = c
}

// CoverageFor returns the coverage record for an employee.
func (r *HRRecords) CoverageFor(employeeID string) (Coverage, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.coverage[employeeID]
	return c, ok
}

// LeaveBalanceTool reports an employee's remaining leave.
type LeaveBalanceTool struct {
	records *HRRecords
}

// NewLeaveBalanceTool creates the records.leave_balance tool.
func NewLeaveBalanceTool(records *HRRecords) *LeaveBalanceTool {
	return &LeaveBalanceTool{records: records}
}

// ID returns the tool identifier.
func (t *LeaveBalanceTool) ID() string { return LeaveBalanceToolID }

// Description returns the planning description.
func (t *LeaveBalanceTool) Description() string {
	return "Fetch the employee's remaining annual and sick leave"
}

// Invoke looks up the caller's leave balance.
func (t *LeaveBalanceTool) Invoke(ctx context.Context, in Input) *Result {
	if err := ctx.Err(); err != nil {
		return Failuref(LeaveBalanceToolID, "lookup aborted: %v", err)
	}
	if in.User.ID == "" {
		return Failure(LeaveBalanceToolID, "employee id is required")
	}

	balance, ok := t.records.Leave(in.User.ID)
	if !ok {
		return Failuref(LeaveBalanceToolID, "no leave record for employee %s", in.User.ID)
	}

	content := fmt.Sprintf("Employee %s has %.1f annual leave days and %.0f sick days remaining as of %s.",
		in.User.ID, balance.AnnualDays, balance.SickDays, balance.AsOf.Format("2006-01-02"))
	return Success(LeaveBalanceToolID, content, "records:leave/"+in.User.ID)
}

// CoverageTool reports an employee's insurance enrollment.
type CoverageTool struct {
	records *HRRecords
}

// NewCoverageTool creates the records.coverage tool.
func NewCoverageTool(records *HRRecords) *CoverageTool {
	return &CoverageTool{records: records}
}

// ID returns the tool identifier.
func (t *CoverageTool) ID() string { return CoverageToolID }

// Description returns the planning description.
func (t *CoverageTool) Description() string {
	return "Fetch the employee's insurance plan and coverage details"
}

// Invoke looks up the caller's coverage record.
func (t *CoverageTool) Invoke(ctx context.Context, in Input) *Result {
	if err := ctx.Err(); err != nil {
		return Failuref(CoverageToolID, "lookup aborted: %v", err)
	}
	if in.User.ID == "" {
		return Failure(CoverageToolID, "employee id is required")
	}

	cov, ok := t.records.CoverageFor(in.User.ID)
	if !ok {
		return Failuref(CoverageToolID, "no coverage record for employee %s", in.User.ID)
	}

	extras := []string{}
	if cov.Dental {
		extras = append(extras, "dental")
	}
	if cov.Vision {
		extras = append(extras, "vision")
	}
	extraText := "no dental or vision riders"
	if len(extras) > 0 {
		extraText = strings.Join(extras, " and ") + " included"
	}

	content := fmt.Sprintf("Employee %s is enrolled in the %s plan covering %d dependents, %s, with a $%d deductible.",
		in.User.ID, cov.Plan, cov.Dependents, extraText, cov.Deductible)
	return Success(CoverageToolID, content, "records:coverage/"+in.User.ID)
}
