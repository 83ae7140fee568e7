package kb

import "github.com/rs/zerolog"

// DefaultCorpus returns the built-in workplace documents, grouped by
// collection. It backs the kb.search tool when no external sources are
// configured.
func DefaultCorpus() map[string][]Document {
	return map[string][]Document{
		"policies": {
			{
				ID:      "pol-leave-001",
				Title:   "Annual Leave Policy",
				Content: "Full-time employees accrue 1.75 days of annual leave per month, 21 days per year. Leave requests must be submitted through the HR portal at least two weeks in advance for absences longer than three days. Unused leave up to 5 days carries over to the next calendar year.",
				Tags:    []string{"leave", "vacation", "pto", "annual leave"},
			},
			{
				ID:      "pol-leave-002",
				Title:   "Sick Leave and Parental Leave",
				Content: "Employees receive 10 paid sick days per year, no carry-over. A medical certificate is required for absences of three or more consecutive days. Parental leave is 16 weeks at full pay for primary caregivers and 4 weeks for secondary caregivers.",
				Tags:    []string{"sick day", "parental leave", "leave"},
			},
			{
				ID:      "pol-wfh-001",
				Title:   "Remote Work Policy",
				Content: "Employees may work remotely up to three days per week with manager approval. Fully remote arrangements require director sign-off and an annual review.",
				Tags:    []string{"remote", "work from home", "hybrid"},
			},
		},
		"benefits": {
			{
				ID:      "ben-ins-001",
				Title:   "Health Insurance Coverage",
				Content: "The company health plan covers medical, dental and vision for employees and dependents. The standard plan has a $500 individual deductible; the premium plan has no deductible and adds out-of-network coverage. Open enrollment runs every November.",
				Tags:    []string{"insurance", "coverage", "medical", "dental", "vision"},
			},
			{
				ID:      "ben-ret-001",
				Title:   "Retirement Plan",
				Content: "The 401k plan matches 100% of contributions up to 4% of base salary. Matching vests over two years. Contribution changes take effect the following pay period.",
				Tags:    []string{"401k", "retirement plan", "benefits"},
			},
		},
		"payroll": {
			{
				ID:      "pay-sched-001",
				Title:   "Payroll Schedule",
				Content: "Salaries are paid on the last business day of each month. Payslips are published in the payroll portal two days before the pay date. Expense reimbursements approved by the 15th are included in the same month's pay run.",
				Tags:    []string{"payroll", "salary", "payslip", "pay date", "reimbursement"},
			},
			{
				ID:      "pay-exp-001",
				Title:   "Expense Reports",
				Content: "Submit expense reports within 30 days of the expense date with itemized receipts. Travel expenses above $250 require pre-approval from your cost center owner.",
				Tags:    []string{"expense report", "reimbursement", "travel"},
			},
		},
		"it": {
			{
				ID:      "it-vpn-001",
				Title:   "VPN Access",
				Content: "Install the corporate VPN client from the self-service portal and sign in with your directory account. VPN access requires a registered second factor. Connection issues are usually resolved by re-enrolling the device certificate.",
				Tags:    []string{"vpn", "network", "remote access"},
			},
			{
				ID:      "it-pwd-001",
				Title:   "Password Reset",
				Content: "Passwords can be reset at id.example.com using your recovery codes. Accounts lock after five failed attempts and unlock automatically after 15 minutes, or immediately via the service desk.",
				Tags:    []string{"password", "account", "login"},
			},
		},
	}
}

// NewDefaultStore builds a store seeded with the built-in corpus.
func NewDefaultStore(logger zerolog.Logger) *Store {
	store := NewStore(logger)
	for collection, docs := range DefaultCorpus() {
		store.Register(collection, NewMemorySource(collection, WithDocuments(docs...)))
	}
	return store
}
