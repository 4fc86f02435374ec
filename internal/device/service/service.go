// Package service registers devices and drives their deactivation lifecycle.
package service

import (
	"time"

	"go.uber.org/zap"

	categoryrepo "fleet-control-plane/internal/category/repository"
	devicerepo "fleet-control-plane/internal/device/repository"
	"fleet-control-plane/internal/history"
	loanrepo "fleet-control-plane/internal/loan/repository"
)

// Service owns device registration and deactivation.
type Service struct {
	tx         Transactor
	devices    devicerepo.Repository
	loans      loanrepo.Repository
	categories categoryrepo.Repository
	history    *history.Recorder
	now        func() time.Time
	newID      func() string
	log        *zap.Logger
}

// NewService returns a device service. log may be nil.
func NewService(tx Transactor, devices devicerepo.Repository, loans loanrepo.Repository, categories categoryrepo.Repository, rec *history.Recorder, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		tx:         tx,
		devices:    devices,
		loans:      loans,
		categories: categories,
		history:    rec,
		now:        time.Now,
		newID:      newDesktopID,
		log:        log,
	}
}
