package booking

// AmountCalculator is the injected pricing strategy. The default mirrors the
// platform's current model: a flat hourly rate with a percentage cap on the
// cancellation penalty. Real service pricing replaces this per deployment.
type AmountCalculator interface {
	TotalJPY(serviceID ServicePriceContext, timeRange TimeRange) int64
	MaxPenalty(total Money) Money
}

type ServicePriceContext struct {
	ServiceID  string
	ResourceID string
}

type HourlyRateCalculator struct {
	HourlyRateJPY  int64
	PenaltyPercent int64
}

func NewHourlyRateCalculator(hourlyRateJPY, penaltyPercent int64) *HourlyRateCalculator {
	return &HourlyRateCalculator{
		HourlyRateJPY:  hourlyRateJPY,
		PenaltyPercent: penaltyPercent,
	}
}

func (c *HourlyRateCalculator) TotalJPY(_ ServicePriceContext, timeRange TimeRange) int64 {
	hours := timeRange.Duration().Hours()
	return int64(hours * float64(c.HourlyRateJPY))
}

func (c *HourlyRateCalculator) MaxPenalty(total Money) Money {
	return total.Percent(c.PenaltyPercent)
}
