package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the rule-set collectors. A nil *Metrics records nothing.
type Metrics struct {
	OTPIssued         *prometheus.CounterVec
	OTPVerifications  *prometheus.CounterVec
	OTPCleanupDeleted prometheus.Counter
	LoyaltyPoints     *prometheus.CounterVec
	CouponRedemptions *prometheus.CounterVec
}

// NewMetrics registers the collectors with reg, or the default registerer
// when reg is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		OTPIssued: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "shopmart_otp_issued_total",
			Help: "One-time codes issued by purpose",
		}, []string{"purpose"}),
		OTPVerifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "shopmart_otp_verifications_total",
			Help: "One-time code verification attempts by purpose and result",
		}, []string{"purpose", "result"}),
		OTPCleanupDeleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "shopmart_otp_cleanup_deleted_total",
			Help: "Expired one-time codes removed by cleanup",
		}),
		LoyaltyPoints: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "shopmart_loyalty_points_total",
			Help: "Loyalty points moved through the ledger by transaction type",
		}, []string{"type"}),
		CouponRedemptions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "shopmart_coupon_redemptions_total",
			Help: "Coupon redemption attempts by result",
		}, []string{"result"}),
	}
}

func (m *Metrics) otpIssued(purpose string) {
	if m != nil {
		m.OTPIssued.WithLabelValues(purpose).Inc()
	}
}

func (m *Metrics) otpVerified(purpose string, ok bool) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.OTPVerifications.WithLabelValues(purpose, result).Inc()
}

func (m *Metrics) otpCleaned(n int64) {
	if m != nil && n > 0 {
		m.OTPCleanupDeleted.Add(float64(n))
	}
}

func (m *Metrics) loyaltyMoved(kind string, points int64) {
	if m == nil {
		return
	}
	if points < 0 {
		points = -points
	}
	m.LoyaltyPoints.WithLabelValues(kind).Add(float64(points))
}

func (m *Metrics) couponRedeemed(result string) {
	if m != nil {
		m.CouponRedemptions.WithLabelValues(result).Inc()
	}
}
