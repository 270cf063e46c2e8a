// Package fleet scales the backend's compute capacity and reports readiness.
package fleet

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/rs/zerolog"

	"github.com/modelfleet/controld/internal/cloudapi"
	"github.com/modelfleet/controld/internal/metrics"
)

// ErrMissingConfig is returned before any cloud call when the cluster,
// service, or autoscaling group name is not configured.
var ErrMissingConfig = errors.New("cluster, service, and autoscaling group names required")

// taskRunningStatus is the platform's lifecycle status for a ready task.
const taskRunningStatus = "RUNNING"

// StatusNoTasks is reported when the service has no tasks at all. Distinct
// from an error: an idle service is a normal state.
const StatusNoTasks = "NO_TASKS"

// Status is the readiness report for the self-hosted backend.
type Status struct {
	Ready   bool   `json:"ready"`
	Status  string `json:"status"`
	TaskARN string `json:"task_arn,omitempty"`
}

type Config struct {
	ClusterName          string
	ServiceName          string
	AutoScalingGroupName string
	Logger               zerolog.Logger
}

type Scaler struct {
	ecs     cloudapi.ECSAPI
	asg     cloudapi.AutoScalingAPI
	cluster string
	service string
	group   string
	log     zerolog.Logger
}

func NewScaler(ecsAPI cloudapi.ECSAPI, asgAPI cloudapi.AutoScalingAPI, cfg Config) *Scaler {
	return &Scaler{
		ecs:     ecsAPI,
		asg:     asgAPI,
		cluster: cfg.ClusterName,
		service: cfg.ServiceName,
		group:   cfg.AutoScalingGroupName,
		log:     cfg.Logger.With().Str("component", "fleet").Logger(),
	}
}

// SetDesired sets the autoscaling group and the container service to the
// given count. The two updates are independent calls: if the second fails
// after the first succeeded the mixed state is surfaced to the caller and
// left for the platform's own reconciliation to converge. Scaling to zero
// additionally force-stops every running task, best-effort per task.
func (s *Scaler) SetDesired(ctx context.Context, count int32) error {
	if err := s.configured(); err != nil {
		return err
	}
	if count != 0 && count != 1 {
		return fmt.Errorf("desired count must be 0 or 1, got %d", count)
	}
	label := strconv.Itoa(int(count))

	_, err := s.asg.UpdateAutoScalingGroup(ctx, &autoscaling.UpdateAutoScalingGroupInput{
		AutoScalingGroupName: aws.String(s.group),
		DesiredCapacity:      aws.Int32(count),
		MinSize:              aws.Int32(0),
	})
	if err != nil {
		metrics.ScaleOps.WithLabelValues(label, "error").Inc()
		return fmt.Errorf("update autoscaling group %s: %w", s.group, err)
	}
	s.log.Info().Str("group", s.group).Int32("desired", count).Msg("set autoscaling group capacity")

	_, err = s.ecs.UpdateService(ctx, &ecs.UpdateServiceInput{
		Cluster:            aws.String(s.cluster),
		Service:            aws.String(s.service),
		DesiredCount:       aws.Int32(count),
		ForceNewDeployment: true,
	})
	if err != nil {
		metrics.ScaleOps.WithLabelValues(label, "error").Inc()
		return fmt.Errorf("update service %s: %w", s.service, err)
	}
	s.log.Info().Str("service", s.service).Int32("desired", count).Msg("set service desired count")

	if count == 0 {
		s.stopAllTasks(ctx)
	}
	metrics.ScaleOps.WithLabelValues(label, "ok").Inc()
	return nil
}

// Status lists the service's tasks and reports readiness from the
// most-recently-listed one. Listing order is whatever the platform returns,
// so "most recent" is a heuristic, not a latest-deployment guarantee.
func (s *Scaler) Status(ctx context.Context) (Status, error) {
	if s.cluster == "" || s.service == "" {
		return Status{}, ErrMissingConfig
	}
	arns, err := s.listTasks(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("list tasks: %w", err)
	}
	if len(arns) == 0 {
		return Status{Ready: false, Status: StatusNoTasks}, nil
	}
	latest := arns[len(arns)-1]
	out, err := s.ecs.DescribeTasks(ctx, &ecs.DescribeTasksInput{
		Cluster: aws.String(s.cluster),
		Tasks:   []string{latest},
	})
	if err != nil {
		return Status{}, fmt.Errorf("describe task %s: %w", latest, err)
	}
	if len(out.Tasks) == 0 {
		return Status{}, fmt.Errorf("task %s not found", latest)
	}
	last := aws.ToString(out.Tasks[0].LastStatus)
	return Status{
		Ready:   last == taskRunningStatus,
		Status:  last,
		TaskARN: latest,
	}, nil
}

func (s *Scaler) listTasks(ctx context.Context) ([]string, error) {
	out, err := s.ecs.ListTasks(ctx, &ecs.ListTasksInput{
		Cluster:     aws.String(s.cluster),
		ServiceName: aws.String(s.service),
	})
	if err != nil {
		return nil, err
	}
	return out.TaskArns, nil
}

// stopAllTasks force-stops every running task. A task that fails to stop is
// logged and skipped; stopping is not retried.
func (s *Scaler) stopAllTasks(ctx context.Context) {
	arns, err := s.listTasks(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to list tasks for stop")
		return
	}
	if len(arns) == 0 {
		s.log.Info().Str("service", s.service).Msg("no tasks to stop")
		return
	}
	for _, arn := range arns {
		if _, err := s.ecs.StopTask(ctx, &ecs.StopTaskInput{
			Cluster: aws.String(s.cluster),
			Task:    aws.String(arn),
			Reason:  aws.String("scaled to zero"),
		}); err != nil {
			s.log.Error().Err(err).Str("task", arn).Msg("failed to stop task")
			continue
		}
		s.log.Info().Str("task", arn).Msg("stopped task")
	}
}

func (s *Scaler) configured() error {
	if s.cluster == "" || s.service == "" || s.group == "" {
		return ErrMissingConfig
	}
	return nil
}
