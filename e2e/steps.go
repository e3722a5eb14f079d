package e2e

import (
	"github.com/cucumber/godog"

	"entitystore/e2e/steps/common"
	"entitystore/e2e/steps/entities"
)

// RegisterSteps registers all step definitions from modular packages
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	// Register common steps (authentication, generic requests, assertions)
	common.RegisterSteps(ctx, tc)

	// Register entity-specific steps
	entities.RegisterSteps(ctx, tc)
}
