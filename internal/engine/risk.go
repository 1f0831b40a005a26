package engine

import (
	"github.com/rxtech-lab/gridhedge/internal/config"
	"github.com/rxtech-lab/gridhedge/internal/logger"
	"github.com/rxtech-lab/gridhedge/internal/types"
)

// AlertKind identifies a risk threshold breach.
type AlertKind string

const (
	AlertMarginUsage AlertKind = "margin_usage"
	AlertDrawdown    AlertKind = "drawdown"
)

// Alert is one risk threshold breach.
type Alert struct {
	Kind  AlertKind
	Value float64
	Limit float64
}

// riskMonitor raises an alert once when a threshold is crossed and re-arms
// after the reading drops back under it.
type riskMonitor struct {
	cfg *config.Config
	log *logger.Logger

	marginRaised   bool
	drawdownRaised bool
}

func newRiskMonitor(cfg *config.Config, log *logger.Logger) *riskMonitor {
	return &riskMonitor{cfg: cfg, log: log}
}

// Check evaluates the account against the configured limits.
func (m *riskMonitor) Check(account types.AccountSnapshot) []Alert {
	if !m.cfg.Risk.AlertEnabled {
		return nil
	}

	var alerts []Alert

	usage := account.MarginUsage()
	if usage >= m.cfg.Risk.MaxMarginUsage {
		if !m.marginRaised {
			alerts = append(alerts, Alert{Kind: AlertMarginUsage, Value: usage, Limit: m.cfg.Risk.MaxMarginUsage})
			m.marginRaised = true
		}
	} else {
		m.marginRaised = false
	}

	openLoss := -account.Profit
	if openLoss >= m.cfg.Risk.MaxDrawdown {
		if !m.drawdownRaised {
			alerts = append(alerts, Alert{Kind: AlertDrawdown, Value: openLoss, Limit: m.cfg.Risk.MaxDrawdown})
			m.drawdownRaised = true
		}
	} else {
		m.drawdownRaised = false
	}

	return alerts
}
