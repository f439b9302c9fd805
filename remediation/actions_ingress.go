package remediation

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

// Open address blocks that make an ingress rule "unrestricted"
const (
	openIPv4 = "0.0.0.0/0"
	openIPv6 = "::/0"
)

// Sensitive ports per guarded rule family
const (
	portSSH int32 = 22
	portRDP int32 = 3389
)

// revokeOpenIngress removes exactly those ingress rule entries on a
// security group that both cover the sensitive port and allow an
// unrestricted source. Everything else on the group stays untouched.
// Revoking an already-revoked entry fails with a not-found that we treat
// as converged, so retries are safe.
func revokeOpenIngress(ctx context.Context, client EC2API, groupID string, port int32) (revoked int, err error) {
	out, err := client.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{
		GroupIds: []string{groupID},
	})
	if err != nil {
		return 0, fmt.Errorf("%w: describe security group %s: %v", ErrAction, groupID, err)
	}

	var toRevoke []ec2types.IpPermission
	for _, group := range out.SecurityGroups {
		toRevoke = append(toRevoke, matchOpenPermissions(group.IpPermissions, port)...)
	}

	if len(toRevoke) == 0 {
		return 0, nil
	}

	_, err = client.RevokeSecurityGroupIngress(ctx, &ec2.RevokeSecurityGroupIngressInput{
		GroupId:       aws.String(groupID),
		IpPermissions: toRevoke,
	})
	if err != nil {
		return 0, fmt.Errorf("%w: revoke ingress on %s: %v", ErrAction, groupID, err)
	}

	return len(toRevoke), nil
}

// matchOpenPermissions narrows a group's ingress permissions down to the
// entries that must go: port covered AND source unrestricted. The returned
// permissions carry only the offending ranges so revocation cannot touch
// restricted sources sharing the same rule.
func matchOpenPermissions(permissions []ec2types.IpPermission, port int32) []ec2types.IpPermission {
	var matched []ec2types.IpPermission

	for _, perm := range permissions {
		if !coversPort(perm, port) {
			continue
		}

		var openV4 []ec2types.IpRange
		for _, r := range perm.IpRanges {
			if aws.ToString(r.CidrIp) == openIPv4 {
				openV4 = append(openV4, r)
			}
		}

		var openV6 []ec2types.Ipv6Range
		for _, r := range perm.Ipv6Ranges {
			if aws.ToString(r.CidrIpv6) == openIPv6 {
				openV6 = append(openV6, r)
			}
		}

		if len(openV4) == 0 && len(openV6) == 0 {
			continue
		}

		matched = append(matched, ec2types.IpPermission{
			IpProtocol: perm.IpProtocol,
			FromPort:   perm.FromPort,
			ToPort:     perm.ToPort,
			IpRanges:   openV4,
			Ipv6Ranges: openV6,
		})
	}

	return matched
}

// coversPort reports whether a permission's port range includes the
// sensitive port. Protocol -1 means all traffic; a tcp rule without ports
// covers every port.
func coversPort(perm ec2types.IpPermission, port int32) bool {
	protocol := aws.ToString(perm.IpProtocol)

	switch protocol {
	case "-1":
		return true
	case "tcp":
		if perm.FromPort == nil || perm.ToPort == nil {
			return true
		}
		return aws.ToInt32(perm.FromPort) <= port && port <= aws.ToInt32(perm.ToPort)
	default:
		return false
	}
}
