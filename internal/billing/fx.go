package billing

import (
	accountrepository "github.com/paperwell/metering/internal/account/repository"
	"github.com/paperwell/metering/internal/billing/service"
	ledgerrepository "github.com/paperwell/metering/internal/ledger/repository"
	usagerepository "github.com/paperwell/metering/internal/usage/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("billing.service",
	fx.Provide(accountrepository.Provide),
	fx.Provide(ledgerrepository.Provide),
	fx.Provide(usagerepository.Provide),
	fx.Provide(service.NewService),
)
