package aws

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/sirupsen/logrus"

	"github.com/rustyrazorblade/edl/internal/retry"
	"github.com/rustyrazorblade/edl/pkg/provider"
	pkgtypes "github.com/rustyrazorblade/edl/pkg/types"
)

// AMIService finds and removes the machine images built for lab nodes
type AMIService struct {
	api EC2API
	service
}

// NewAMIService returns an AMIService using the EC2 retry policy
func NewAMIService(api EC2API, opts ...ServiceOption) *AMIService {
	return &AMIService{api: api, service: newService(retry.ServiceEC2, opts)}
}

// FindImages returns the images owned by this account whose name starts
// with prefix, newest first
func (s *AMIService) FindImages(ctx context.Context, prefix string) ([]pkgtypes.Image, error) {
	out, err := callWithData(ctx, &s.service, func() (*ec2.DescribeImagesOutput, error) {
		return s.api.DescribeImages(ctx, &ec2.DescribeImagesInput{
			Owners:  []string{"self"},
			Filters: []ec2types.Filter{filter("name", prefix+"*")},
		})
	})
	if err != nil {
		return nil, wrapErr("ec2", "describe-images", prefix, err)
	}

	images := make([]pkgtypes.Image, 0, len(out.Images))
	for _, img := range out.Images {
		images = append(images, toImage(img))
	}
	sort.SliceStable(images, func(i, j int) bool {
		return images[i].CreatedAt.After(images[j].CreatedAt)
	})
	return images, nil
}

// ImageState returns the state of one image, or ErrNotFound
func (s *AMIService) ImageState(ctx context.Context, imageID string) (string, error) {
	out, err := callWithData(ctx, &s.service, func() (*ec2.DescribeImagesOutput, error) {
		return s.api.DescribeImages(ctx, &ec2.DescribeImagesInput{ImageIds: []string{imageID}})
	})
	if err != nil {
		if retry.IsNotFound(err) {
			return "", fmt.Errorf("image %s: %w", imageID, provider.ErrNotFound)
		}
		return "", wrapErr("ec2", "describe-images", imageID, err)
	}
	if len(out.Images) == 0 {
		return "", fmt.Errorf("image %s: %w", imageID, provider.ErrNotFound)
	}
	return string(out.Images[0].State), nil
}

// Deregister removes an image and the EBS snapshots backing it
func (s *AMIService) Deregister(ctx context.Context, img pkgtypes.Image) error {
	err := s.call(ctx, func() error {
		_, err := s.api.DeregisterImage(ctx, &ec2.DeregisterImageInput{ImageId: aws.String(img.ID)})
		return err
	})
	if err != nil && !retry.IsNotFound(err) {
		return wrapErr("ec2", "deregister-image", img.ID, err)
	}

	for _, snap := range img.SnapshotIDs {
		err := s.call(ctx, func() error {
			_, err := s.api.DeleteSnapshot(ctx, &ec2.DeleteSnapshotInput{SnapshotId: aws.String(snap)})
			return err
		})
		if err != nil && !retry.IsNotFound(err) {
			return wrapErr("ec2", "delete-snapshot", snap, err)
		}
	}
	s.log.WithFields(logrus.Fields{"image": img.ID, "snapshots": len(img.SnapshotIDs)}).Info("Deregistered image.")
	s.publish("Deleted image %s (%s)", img.Name, img.ID)
	return nil
}

// Prune deregisters all but the keep newest images matching prefix and
// returns the images removed. With dryRun nothing is deleted.
func (s *AMIService) Prune(ctx context.Context, prefix string, keep int, dryRun bool) ([]pkgtypes.Image, error) {
	images, err := s.FindImages(ctx, prefix)
	if err != nil {
		return nil, err
	}
	if keep < 0 {
		keep = 0
	}
	if len(images) <= keep {
		return nil, nil
	}

	stale := images[keep:]
	if dryRun {
		for _, img := range stale {
			s.publish("Would delete image %s (%s)", img.Name, img.ID)
		}
		return stale, nil
	}
	for _, img := range stale {
		if err := s.Deregister(ctx, img); err != nil {
			return nil, err
		}
	}
	return stale, nil
}

func toImage(img ec2types.Image) pkgtypes.Image {
	out := pkgtypes.Image{
		ID:    deref(img.ImageId),
		Name:  deref(img.Name),
		State: string(img.State),
	}
	if t, err := time.Parse(time.RFC3339, deref(img.CreationDate)); err == nil {
		out.CreatedAt = t
	}
	for _, bdm := range img.BlockDeviceMappings {
		if bdm.Ebs != nil && bdm.Ebs.SnapshotId != nil {
			out.SnapshotIDs = append(out.SnapshotIDs, *bdm.Ebs.SnapshotId)
		}
	}
	return out
}
