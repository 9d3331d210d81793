package actions

import (
	"context"
	"fmt"

	"github.com/orion-sentinel/netsec/internal/device"
	"github.com/orion-sentinel/netsec/internal/notify"
	"github.com/orion-sentinel/netsec/internal/platform/errs"
)

// blockDomainExecutor calls the DNS-sink admin API to add a domain to the
// black list.
type blockDomainExecutor struct {
	client *DNSSinkClient
}

func (e *blockDomainExecutor) Kind() string { return KindBlockDomain }

func (e *blockDomainExecutor) Validate(parameters map[string]string) error {
	if parameters["domain"] == "" {
		return fmt.Errorf("block-domain requires a non-empty %q parameter", "domain")
	}
	return nil
}

func (e *blockDomainExecutor) Execute(ctx context.Context, parameters map[string]string, dryRun bool) (Receipt, error) {
	domain := parameters["domain"]
	if dryRun {
		return Receipt{Success: true, Details: fmt.Sprintf("dry-run: would block %s", domain)}, nil
	}
	if err := e.client.AddToBlacklist(ctx, domain); err != nil {
		if errs.IsRejected(err) {
			// API-level rejection (already-blocked, forbidden): treated as a
			// successful outcome with a note instead of a retry.
			return Receipt{Success: true, Details: fmt.Sprintf("dns-sink rejected %s: %s", domain, err.Error())}, nil
		}
		return Receipt{Success: false, Details: err.Error(), RetryHint: true}, nil
	}
	return Receipt{Success: true, Details: fmt.Sprintf("blocked %s", domain)}, nil
}

// tagDeviceExecutor adds a tag to a device via the device store.
type tagDeviceExecutor struct {
	store *device.Store
}

func (e *tagDeviceExecutor) Kind() string { return KindTagDevice }

func (e *tagDeviceExecutor) Validate(parameters map[string]string) error {
	if parameters["device_id"] == "" {
		return fmt.Errorf("tag-device requires a non-empty %q parameter", "device_id")
	}
	if parameters["tag"] == "" {
		return fmt.Errorf("tag-device requires a non-empty %q parameter", "tag")
	}
	return nil
}

func (e *tagDeviceExecutor) Execute(_ context.Context, parameters map[string]string, dryRun bool) (Receipt, error) {
	deviceID, tag := parameters["device_id"], parameters["tag"]
	if dryRun {
		return Receipt{Success: true, Details: fmt.Sprintf("dry-run: would tag %s with %s", deviceID, tag)}, nil
	}
	if err := e.store.AddTag(deviceID, tag); err != nil {
		return Receipt{Success: false, Details: err.Error()}, nil
	}
	return Receipt{Success: true, Details: fmt.Sprintf("tagged %s with %s", deviceID, tag)}, nil
}

// sendNotificationExecutor fans a message out through the configured
// notification transports.
type sendNotificationExecutor struct {
	dispatcher *notify.Dispatcher
}

func (e *sendNotificationExecutor) Kind() string { return KindSendNotification }

func (e *sendNotificationExecutor) Validate(parameters map[string]string) error {
	if parameters["subject"] == "" && parameters["body"] == "" {
		return fmt.Errorf("send-notification requires a %q or %q parameter", "subject", "body")
	}
	return nil
}

func (e *sendNotificationExecutor) Execute(ctx context.Context, parameters map[string]string, dryRun bool) (Receipt, error) {
	subject, body := parameters["subject"], parameters["body"]
	if dryRun {
		return Receipt{Success: true, Details: "dry-run: would send notification"}, nil
	}
	results, err := e.dispatcher.Send(ctx, notify.Message{Subject: subject, Body: body})
	if err != nil {
		return Receipt{Success: false, Details: err.Error()}, nil
	}
	return Receipt{Success: true, Details: fmt.Sprintf("delivered via %d transport(s)", len(results))}, nil
}

// simulateOnlyExecutor never performs a side effect; it always succeeds and
// records the parameters it was given.
type simulateOnlyExecutor struct{}

func (e *simulateOnlyExecutor) Kind() string { return KindSimulateOnly }

func (e *simulateOnlyExecutor) Validate(map[string]string) error { return nil }

func (e *simulateOnlyExecutor) Execute(_ context.Context, parameters map[string]string, _ bool) (Receipt, error) {
	return Receipt{Success: true, Details: fmt.Sprintf("simulated with %d parameter(s)", len(parameters))}, nil
}
