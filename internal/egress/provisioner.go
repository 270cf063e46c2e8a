// Package egress provisions temporary NAT egress around a model pull and
// guarantees the prior default route comes back afterward.
package egress

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/rs/zerolog"

	"github.com/modelfleet/controld/internal/cloudapi"
	"github.com/modelfleet/controld/internal/metrics"
)

// ErrProvisioningTimeout means a created gateway never reached the available
// state. Nothing stable was attached, so no teardown follows it.
var ErrProvisioningTimeout = errors.New("nat gateway did not become available in time")

// ErrAttachFailed means the default route could not be pointed at the
// gateway. Fatal to the run; any gateway this run created is deleted before
// the error is returned.
var ErrAttachFailed = errors.New("attach nat gateway to route table failed")

const (
	defaultPollInterval = 15 * time.Second
	defaultPollAttempts = 40
	defaultSettleDelay  = 20 * time.Second
)

// Config for a Provisioner. Zero intervals fall back to the production
// defaults; tests inject short ones.
type Config struct {
	SubnetID     string
	AllocationID string
	RouteTableID string

	PollInterval time.Duration
	PollAttempts int
	SettleDelay  time.Duration

	Logger zerolog.Logger
}

// Egress is the result of a successful Ensure: the gateway now serving the
// default route, the pre-mutation snapshot, and whether this run created the
// gateway (and therefore owns deleting it).
type Egress struct {
	GatewayID string
	Snapshot  RouteSnapshot
	Created   bool
}

type Provisioner struct {
	api          cloudapi.EC2API
	subnetID     string
	allocationID string
	routeTableID string
	pollInterval time.Duration
	pollAttempts int
	settleDelay  time.Duration
	log          zerolog.Logger
}

func NewProvisioner(api cloudapi.EC2API, cfg Config) (*Provisioner, error) {
	if cfg.SubnetID == "" || cfg.AllocationID == "" || cfg.RouteTableID == "" {
		return nil, fmt.Errorf("subnet, allocation, and route table ids required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.PollAttempts <= 0 {
		cfg.PollAttempts = defaultPollAttempts
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = defaultSettleDelay
	}
	return &Provisioner{
		api:          api,
		subnetID:     cfg.SubnetID,
		allocationID: cfg.AllocationID,
		routeTableID: cfg.RouteTableID,
		pollInterval: cfg.PollInterval,
		pollAttempts: cfg.PollAttempts,
		settleDelay:  cfg.SettleDelay,
		log:          cfg.Logger.With().Str("component", "egress").Logger(),
	}, nil
}

// Ensure makes a NAT gateway the default-route target of the managed route
// table, reusing an available gateway in the subnet when one exists. The
// route snapshot is captured before any mutation. On return the route has
// had a settle delay to propagate; the caller may start using egress.
func (p *Provisioner) Ensure(ctx context.Context) (*Egress, error) {
	snap, err := captureSnapshot(ctx, p.api, p.routeTableID)
	if err != nil {
		return nil, fmt.Errorf("capture route snapshot: %w", err)
	}
	p.log.Info().Str("route", snap.String()).Msg("captured default route")

	gatewayID, err := p.findAvailableGateway(ctx)
	if err != nil {
		return nil, fmt.Errorf("describe nat gateways: %w", err)
	}

	created := false
	if gatewayID != "" {
		p.log.Info().Str("nat_gateway_id", gatewayID).Msg("reusing available nat gateway")
		metrics.GatewaysReused.Inc()
	} else {
		gatewayID, err = p.createGateway(ctx)
		if err != nil {
			return nil, fmt.Errorf("create nat gateway: %w", err)
		}
		created = true
		metrics.GatewaysCreated.Inc()
		p.log.Info().Str("nat_gateway_id", gatewayID).Msg("created nat gateway, waiting for it to become available")
		if err := p.waitAvailable(ctx, gatewayID); err != nil {
			// State unknown; leave the gateway for the operator.
			return nil, err
		}
	}

	if err := p.attach(ctx, gatewayID); err != nil {
		if created {
			p.deleteGateway(ctx, gatewayID)
		}
		return nil, fmt.Errorf("%w: %v", ErrAttachFailed, err)
	}
	p.log.Info().Str("nat_gateway_id", gatewayID).Str("route_table_id", p.routeTableID).Msg("attached nat gateway to default route")

	// Route propagation is asynchronous; give it time before the caller
	// starts pulling through it.
	if err := sleepCtx(ctx, p.settleDelay); err != nil {
		return nil, err
	}

	return &Egress{GatewayID: gatewayID, Snapshot: snap, Created: created}, nil
}

// Teardown deletes the gateway if this run created it and then restores the
// captured route, best-effort. Failures are logged, never escalated.
func (p *Provisioner) Teardown(ctx context.Context, eg *Egress) {
	if eg == nil {
		return
	}
	if eg.Created {
		p.deleteGateway(ctx, eg.GatewayID)
	}
	if eg.Snapshot.Empty() {
		p.log.Info().Msg("no prior default route captured, nothing to restore")
		return
	}
	if err := restoreSnapshot(ctx, p.api, p.routeTableID, eg.Snapshot); err != nil {
		metrics.RouteRestoreFailures.Inc()
		p.log.Error().Err(err).Str("route", eg.Snapshot.String()).Msg("failed to restore default route")
		return
	}
	p.log.Info().Str("route", eg.Snapshot.String()).Msg("restored default route")
}

func (p *Provisioner) findAvailableGateway(ctx context.Context) (string, error) {
	out, err := p.api.DescribeNatGateways(ctx, &ec2.DescribeNatGatewaysInput{
		Filter: []ec2types.Filter{
			{Name: aws.String("subnet-id"), Values: []string{p.subnetID}},
			{Name: aws.String("state"), Values: []string{string(ec2types.NatGatewayStateAvailable)}},
		},
	})
	if err != nil {
		return "", err
	}
	if len(out.NatGateways) == 0 {
		return "", nil
	}
	return aws.ToString(out.NatGateways[0].NatGatewayId), nil
}

func (p *Provisioner) createGateway(ctx context.Context) (string, error) {
	out, err := p.api.CreateNatGateway(ctx, &ec2.CreateNatGatewayInput{
		SubnetId:         aws.String(p.subnetID),
		AllocationId:     aws.String(p.allocationID),
		ConnectivityType: ec2types.ConnectivityTypePublic,
		TagSpecifications: []ec2types.TagSpecification{
			{
				ResourceType: ec2types.ResourceTypeNatgateway,
				Tags: []ec2types.Tag{
					{Key: aws.String("Name"), Value: aws.String("controld-egress")},
					{Key: aws.String("ManagedBy"), Value: aws.String("controld")},
				},
			},
		},
	})
	if err != nil {
		return "", err
	}
	return aws.ToString(out.NatGateway.NatGatewayId), nil
}

// waitAvailable polls the gateway state at a fixed interval for a bounded
// number of attempts (~10 minutes at production defaults).
func (p *Provisioner) waitAvailable(ctx context.Context, gatewayID string) error {
	for i := 0; i < p.pollAttempts; i++ {
		available, err := p.isAvailable(ctx, gatewayID)
		if err != nil {
			p.log.Warn().Err(err).Str("nat_gateway_id", gatewayID).Msg("nat gateway status check failed")
		} else if available {
			p.log.Info().Str("nat_gateway_id", gatewayID).Int("attempts", i+1).Msg("nat gateway is available")
			return nil
		}
		if err := sleepCtx(ctx, p.pollInterval); err != nil {
			return err
		}
	}
	return ErrProvisioningTimeout
}

func (p *Provisioner) isAvailable(ctx context.Context, gatewayID string) (bool, error) {
	out, err := p.api.DescribeNatGateways(ctx, &ec2.DescribeNatGatewaysInput{
		Filter: []ec2types.Filter{
			{Name: aws.String("nat-gateway-id"), Values: []string{gatewayID}},
			{Name: aws.String("state"), Values: []string{string(ec2types.NatGatewayStateAvailable)}},
		},
	})
	if err != nil {
		return false, err
	}
	return len(out.NatGateways) > 0, nil
}

func (p *Provisioner) attach(ctx context.Context, gatewayID string) error {
	_, err := p.api.ReplaceRoute(ctx, &ec2.ReplaceRouteInput{
		RouteTableId:         aws.String(p.routeTableID),
		DestinationCidrBlock: aws.String(defaultRouteCIDR),
		NatGatewayId:         aws.String(gatewayID),
	})
	return err
}

func (p *Provisioner) deleteGateway(ctx context.Context, gatewayID string) {
	if _, err := p.api.DeleteNatGateway(ctx, &ec2.DeleteNatGatewayInput{
		NatGatewayId: aws.String(gatewayID),
	}); err != nil {
		p.log.Error().Err(err).Str("nat_gateway_id", gatewayID).Msg("failed to delete nat gateway")
		return
	}
	metrics.GatewaysDeleted.Inc()
	p.log.Info().Str("nat_gateway_id", gatewayID).Msg("deleted nat gateway")
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
