// Package metrics 定义 Prometheus 指标。
//
// InitMetrics 必须在使用任何指标前调用一次（重复调用是安全的，测试里经常这么做）。
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RegistrationsTotal prometheus.Counter
	LoginsTotal        *prometheus.CounterVec // result: ok / rejected
	CodesIssuedTotal   *prometheus.CounterVec // channel + outcome: fresh / reused / throttled
	CodesActivatedTotal *prometheus.CounterVec // channel + result: ok / rejected
	InvitationsIssuedTotal   prometheus.Counter
	InvitationsAcceptedTotal prometheus.Counter
	AccountsDeletedTotal     prometheus.Counter
	NotifyDispatchTotal      *prometheus.CounterVec // channel + result: ok / failed / dropped
)

var initOnce sync.Once

// InitMetrics 注册全部指标，进程内只会执行一次。
func InitMetrics() {
	initOnce.Do(func() {
		RegistrationsTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "accounthub_registrations_total",
			Help: "Total number of accounts created.",
		})
		LoginsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "accounthub_logins_total",
			Help: "Login attempts by result.",
		}, []string{"result"})
		CodesIssuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "accounthub_codes_issued_total",
			Help: "Verification code requests by channel and outcome.",
		}, []string{"channel", "outcome"})
		CodesActivatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "accounthub_codes_activated_total",
			Help: "Verification code activations by channel and result.",
		}, []string{"channel", "result"})
		InvitationsIssuedTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "accounthub_invitations_issued_total",
			Help: "Total number of invitation codes issued.",
		})
		InvitationsAcceptedTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "accounthub_invitations_accepted_total",
			Help: "Total number of invitation codes accepted.",
		})
		AccountsDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "accounthub_accounts_deleted_total",
			Help: "Total number of accounts deleted.",
		})
		NotifyDispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "accounthub_notify_dispatch_total",
			Help: "Verification code deliveries by channel and result.",
		}, []string{"channel", "result"})
	})
}
