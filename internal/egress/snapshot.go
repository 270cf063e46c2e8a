package egress

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"

	"github.com/modelfleet/controld/internal/cloudapi"
)

// defaultRouteCIDR is the catch-all destination whose target this package
// swaps and restores.
const defaultRouteCIDR = "0.0.0.0/0"

// RouteSnapshot records the pre-provisioning target of a route table's
// default route. Exactly one field is set; an all-empty snapshot means the
// table had no default route when captured. Immutable once captured and
// restored at most once, by the run that captured it.
type RouteSnapshot struct {
	NatGatewayID       string
	GatewayID          string
	InstanceID         string
	NetworkInterfaceID string
}

// Empty reports whether the snapshot captured no default-route target.
func (s RouteSnapshot) Empty() bool {
	return s.NatGatewayID == "" && s.GatewayID == "" && s.InstanceID == "" && s.NetworkInterfaceID == ""
}

func (s RouteSnapshot) String() string {
	switch {
	case s.NatGatewayID != "":
		return "nat-gateway " + s.NatGatewayID
	case s.GatewayID != "":
		return "gateway " + s.GatewayID
	case s.InstanceID != "":
		return "instance " + s.InstanceID
	case s.NetworkInterfaceID != "":
		return "network-interface " + s.NetworkInterfaceID
	}
	return "none"
}

// captureSnapshot reads the current default-route target of the managed
// route table. Must run before any mutation so a later restore is always
// possible.
func captureSnapshot(ctx context.Context, api cloudapi.EC2API, routeTableID string) (RouteSnapshot, error) {
	out, err := api.DescribeRouteTables(ctx, &ec2.DescribeRouteTablesInput{
		RouteTableIds: []string{routeTableID},
	})
	if err != nil {
		return RouteSnapshot{}, fmt.Errorf("describe route table %s: %w", routeTableID, err)
	}
	if len(out.RouteTables) == 0 {
		return RouteSnapshot{}, fmt.Errorf("route table %s not found", routeTableID)
	}
	for _, route := range out.RouteTables[0].Routes {
		if aws.ToString(route.DestinationCidrBlock) != defaultRouteCIDR {
			continue
		}
		// Only one target is populated on a live route.
		return RouteSnapshot{
			NatGatewayID:       aws.ToString(route.NatGatewayId),
			GatewayID:          aws.ToString(route.GatewayId),
			InstanceID:         aws.ToString(route.InstanceId),
			NetworkInterfaceID: aws.ToString(route.NetworkInterfaceId),
		}, nil
	}
	return RouteSnapshot{}, nil
}

// restoreSnapshot replaces the default route with the snapshot's target.
func restoreSnapshot(ctx context.Context, api cloudapi.EC2API, routeTableID string, snap RouteSnapshot) error {
	in := &ec2.ReplaceRouteInput{
		RouteTableId:         aws.String(routeTableID),
		DestinationCidrBlock: aws.String(defaultRouteCIDR),
	}
	switch {
	case snap.NatGatewayID != "":
		in.NatGatewayId = aws.String(snap.NatGatewayID)
	case snap.GatewayID != "":
		in.GatewayId = aws.String(snap.GatewayID)
	case snap.InstanceID != "":
		in.InstanceId = aws.String(snap.InstanceID)
	case snap.NetworkInterfaceID != "":
		in.NetworkInterfaceId = aws.String(snap.NetworkInterfaceID)
	default:
		return fmt.Errorf("empty snapshot")
	}
	if _, err := api.ReplaceRoute(ctx, in); err != nil {
		return fmt.Errorf("replace route on %s: %w", routeTableID, err)
	}
	return nil
}
