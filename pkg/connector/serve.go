// pkg/connector/serve.go

package connector

import (
	"context"
	"fmt"
	"sync"
	"time"

	cerr "github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/CodeMonkeyCybersecurity/wazuh-opencti/pkg/connerr"
	"github.com/CodeMonkeyCybersecurity/wazuh-opencti/pkg/metrics"
	"github.com/CodeMonkeyCybersecurity/wazuh-opencti/pkg/opencti"
	"github.com/CodeMonkeyCybersecurity/wazuh-opencti/pkg/stix"
)

const pingInterval = 40 * time.Second

// Serve registers the connector with the platform and processes enrichment
// requests until the context is canceled.
func (c *Connector) Serve(ctx context.Context) error {
	reg, err := c.api.RegisterConnector(ctx, opencti.ConnectorInfo{
		ID:          c.cfg.Connector.ID,
		Name:        c.cfg.Connector.Name,
		Type:        "INTERNAL_ENRICHMENT",
		Scope:       c.cfg.Connector.Scope,
		AutoTrigger: c.cfg.Connector.AutoTrigger,
	})
	if err != nil {
		return err
	}
	c.log.Info("Connector registered",
		zap.String("connector_id", c.cfg.Connector.ID),
		zap.String("listen_queue", reg.Queue.Listen))

	queue := opencti.NewQueue(reg.Queue, c.cfg.Connector.ID, c.log.Logger)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.pingLoop(ctx)
	}()

	sem := make(chan struct{}, c.cfg.Connector.Workers)
	err = queue.Listen(ctx, func(ctx context.Context, msg opencti.EnrichmentMessage) (string, error) {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return "", ctx.Err()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			c.processMessage(ctx, queue, msg)
		}()
		return "dispatched", nil
	})

	wg.Wait()
	c.metrics.SetState(metrics.StateStopped)
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func (c *Connector) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.api.Ping(ctx, c.cfg.Connector.ID, ""); err != nil {
				c.log.Warn("Platform ping failed", zap.Error(err))
				continue
			}
			c.metrics.Ping()
		}
	}
}

// processMessage runs one enrichment end to end and reports the outcome
// back to the platform.
func (c *Connector) processMessage(ctx context.Context, queue *opencti.Queue, msg opencti.EnrichmentMessage) {
	log := c.log.Ctx(ctx)
	start := time.Now()
	c.metrics.Run()
	c.metrics.SetState(metrics.StateRunning)
	defer func() {
		c.metrics.SetState(metrics.StateIdle)
		c.metrics.ObserveProcessing(time.Since(start))
	}()

	workID := msg.Internal.WorkID
	if err := c.api.WorkToReceived(ctx, workID, "Connector ready, processing"); err != nil {
		log.Warn("Reporting work reception failed", zap.Error(err))
	}

	bundle, outcome, err := c.BuildBundle(ctx, msg.Event.EntityID)
	switch {
	case err != nil:
		if connerr.IsUserError(err) {
			c.metrics.ClientError()
		} else {
			c.metrics.Error()
		}
		log.Error("Enrichment failed",
			zap.String("entity_id", msg.Event.EntityID),
			zap.Error(err))
		c.reportProcessed(ctx, workID, err.Error(), true)

	case bundle == nil:
		log.Info("Nothing to send",
			zap.String("entity_id", msg.Event.EntityID),
			zap.String("outcome", outcome))
		c.reportProcessed(ctx, workID, outcome, false)

	default:
		sent, err := c.pushBundle(ctx, queue, workID, msg.Internal.ApplicantID, bundle)
		if err != nil {
			c.metrics.Error()
			log.Error("Pushing bundles failed", zap.Error(err))
			c.reportProcessed(ctx, workID, err.Error(), true)
			return
		}
		c.metrics.BundlesSent(sent)
		c.markEnriched(ctx, msg.Event.EntityID)
		c.reportProcessed(ctx, workID, fmt.Sprintf("Sent %d STIX bundle(s) for worker import", sent), false)
	}
}

// pushBundle splits the bundle into one bundle per object and publishes
// them to the worker import queue.
func (c *Connector) pushBundle(ctx context.Context, queue *opencti.Queue, workID, applicantID string, bundle *stix.Bundle) (int, error) {
	parts := bundle.Split()
	payloads := make([][]byte, 0, len(parts))
	for _, part := range parts {
		payload, err := part.JSON()
		if err != nil {
			return 0, cerr.Wrap(err, "rendering bundle")
		}
		payloads = append(payloads, payload)
	}
	return queue.PushBundles(ctx, workID, applicantID, payloads)
}

func (c *Connector) reportProcessed(ctx context.Context, workID, message string, inError bool) {
	if err := c.api.WorkToProcessed(ctx, workID, message, inError); err != nil {
		c.log.Warn("Reporting work completion failed", zap.Error(err))
	}
}
