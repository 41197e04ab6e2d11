package config

import (
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

// atLeastOne rejects zero as well as negatives; Min alone skips zero values.
var atLeastOne = []validation.Rule{
	validation.Required.Error("must be no less than 1"),
	validation.Min(1),
}

// Validate checks configuration correctness. It does not mutate c.
// The same rules apply whether a value came from the file or the environment.
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.CheckIntervalMs, atLeastOne...),
		validation.Field(&c.RetryLimit, atLeastOne...),
		validation.Field(&c.RetryDelayMs, validation.Min(0)),
		validation.Field(&c.ProbeTimeoutMs, validation.Min(0)),
		validation.Field(&c.Listen, validation.Required),
		validation.Field(&c.LogLevel, validation.In("debug", "info", "warn", "error")),
		validation.Field(&c.Dependencies, validation.Required, validation.Each(is.URL)),
		validation.Field(&c.WorkflowWebhookURL, is.URL),
	)
	if err != nil {
		return err
	}

	for id := range c.Dependencies {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("dependencies: identifier must not be empty")
		}
	}
	return nil
}
