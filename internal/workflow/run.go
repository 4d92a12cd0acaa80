// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"context"
)

// Run executes discovery through report generation for one session and
// returns its final state. It stops at the first failing stage.
func (c *Controller) Run(ctx context.Context, sessionID, source string) (*State, error) {
	if _, err := c.DiscoverDocuments(ctx, sessionID, source); err != nil {
		return nil, err
	}
	if _, err := c.MapRequirements(ctx, sessionID); err != nil {
		return nil, err
	}
	if _, err := c.ExtractEvidence(ctx, sessionID); err != nil {
		return nil, err
	}
	if _, err := c.Validate(ctx, sessionID); err != nil {
		return nil, err
	}
	if _, err := c.GenerateReport(ctx, sessionID); err != nil {
		return nil, err
	}
	return c.GetSessionState(ctx, sessionID)
}
