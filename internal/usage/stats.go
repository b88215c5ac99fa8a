package usage

import "math"

// DailyStats aggregates one UTC day of traffic.
type DailyStats struct {
	Date              string           `json:"date"`
	TotalRequests     int64            `json:"totalRequests"`
	UniqueClients     int              `json:"uniqueClients"`
	ToolCalls         map[string]int64 `json:"toolCalls"`
	Errors            int64            `json:"errors"`
	AvgResponseTimeMs float64          `json:"avgResponseTimeMs"`
}

func newDailyStats(date string, tools []string) DailyStats {
	s := DailyStats{Date: date, ToolCalls: make(map[string]int64, len(tools))}
	for _, t := range tools {
		s.ToolCalls[t] = 0
	}
	return s
}

// Summary is the admin view over the last seven days.
type Summary struct {
	Today        DailyStats   `json:"today"`
	Last7Days    WeekStats    `json:"last7Days"`
	CostEstimate CostEstimate `json:"costEstimate"`
}

type WeekStats struct {
	TotalRequests     int64   `json:"totalRequests"`
	TotalErrors       int64   `json:"totalErrors"`
	ErrorRate         float64 `json:"errorRate"`
	AvgResponseTimeMs float64 `json:"avgResponseTimeMs"`
	PeakDay           PeakDay `json:"peakDay"`
}

type PeakDay struct {
	Date     string `json:"date"`
	Requests int64  `json:"requests"`
}

// summarize folds days (oldest first) into week totals. The average latency
// is the mean of the daily averages; ties for the peak go to the older day.
func summarize(days []DailyStats) WeekStats {
	var w WeekStats
	w.PeakDay = PeakDay{Date: "N/A"}
	if len(days) == 0 {
		return w
	}

	var latency float64
	peak := days[0]
	for _, d := range days {
		w.TotalRequests += d.TotalRequests
		w.TotalErrors += d.Errors
		latency += d.AvgResponseTimeMs
		if d.TotalRequests > peak.TotalRequests {
			peak = d
		}
	}
	w.AvgResponseTimeMs = latency / float64(len(days))
	if w.TotalRequests > 0 {
		w.ErrorRate = float64(w.TotalErrors) / float64(w.TotalRequests) * 100
	}
	w.PeakDay = PeakDay{Date: peak.Date, Requests: peak.TotalRequests}
	return w
}

// Hosting price model used for the monthly estimate.
const (
	FreeRequests           = 10_000_000
	FreeCPUMs              = 30_000_000
	CostPerMillionRequests = 0.30
	CostPerMillionCPUMs    = 0.02
	MinimumMonthly         = 5.00
	DefaultResponseTimeMs  = 3
)

type CostEstimate struct {
	EstimatedMonthlyRequests int64         `json:"estimatedMonthlyRequests"`
	EstimatedMonthlyCPUMs    int64         `json:"estimatedMonthlyCpuMs"`
	Breakdown                CostBreakdown `json:"breakdown"`
	TotalMonthlyCost         float64       `json:"totalMonthlyCost"`
	WithinFreeTier           bool          `json:"withinFreeTier"`
}

type CostBreakdown struct {
	MinimumFee  float64 `json:"minimumFee"`
	RequestCost float64 `json:"requestCost"`
	CPUCost     float64 `json:"cpuCost"`
}

// EstimateCost scales a seven-day request count to thirty days and prices
// it. Leaving either free allowance triggers the monthly minimum.
func EstimateCost(weekRequests int64, avgResponseTimeMs float64) CostEstimate {
	if avgResponseTimeMs == 0 {
		avgResponseTimeMs = DefaultResponseTimeMs
	}
	monthlyRequests := float64(weekRequests) / 7 * 30
	monthlyCPUMs := monthlyRequests * avgResponseTimeMs

	var b CostBreakdown
	if monthlyRequests > FreeRequests {
		b.RequestCost = (monthlyRequests - FreeRequests) / 1_000_000 * CostPerMillionRequests
		b.MinimumFee = MinimumMonthly
	}
	if monthlyCPUMs > FreeCPUMs {
		b.CPUCost = (monthlyCPUMs - FreeCPUMs) / 1_000_000 * CostPerMillionCPUMs
		b.MinimumFee = MinimumMonthly
	}

	total := b.MinimumFee + b.RequestCost + b.CPUCost
	return CostEstimate{
		EstimatedMonthlyRequests: int64(math.Round(monthlyRequests)),
		EstimatedMonthlyCPUMs:    int64(math.Round(monthlyCPUMs)),
		Breakdown:                b,
		TotalMonthlyCost:         total,
		WithinFreeTier:           total <= 0,
	}
}
