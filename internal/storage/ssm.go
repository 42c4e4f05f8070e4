package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"

	"github.com/dverschoor78/aqui-aceita-bitcoin/internal/schedule"
)

// SSMAPI defines the SSM operations used by the schedule parameter.
type SSMAPI interface {
	// GetParameter retrieves a parameter from SSM.
	GetParameter(
		ctx context.Context,
		params *ssm.GetParameterInput,
		optFns ...func(*ssm.Options),
	) (*ssm.GetParameterOutput, error)

	// PutParameter stores a parameter in SSM.
	PutParameter(
		ctx context.Context,
		params *ssm.PutParameterInput,
		optFns ...func(*ssm.Options),
	) (*ssm.PutParameterOutput, error)
}

// ScheduleParameter stores the automatic sync settings as JSON in AWS SSM Parameter Store.
type ScheduleParameter struct {
	// client is the SSM API client.
	client SSMAPI

	// parameterName is the SSM parameter name.
	parameterName string
}

// NewScheduleParameter creates a new SSM-backed schedule store.
func NewScheduleParameter(client SSMAPI, parameterName string) (*ScheduleParameter, error) {
	if client == nil {
		return nil, errors.New("ssm client is required")
	}
	if parameterName == "" {
		return nil, errors.New("parameter name is required")
	}

	return &ScheduleParameter{
		client:        client,
		parameterName: parameterName,
	}, nil
}

// ScheduleSettings returns the stored settings, or nil if the parameter does not exist.
func (s *ScheduleParameter) ScheduleSettings(ctx context.Context) (*schedule.Settings, error) {
	output, err := s.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name: aws.String(s.parameterName),
	})
	if err != nil {
		// Parameter not found is not an error - defaults apply.
		var notFoundErr *types.ParameterNotFound
		if errors.As(err, &notFoundErr) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting parameter from SSM: %w", err)
	}

	if output.Parameter == nil || output.Parameter.Value == nil || *output.Parameter.Value == "" {
		return nil, nil
	}

	var settings schedule.Settings
	if err := json.Unmarshal([]byte(*output.Parameter.Value), &settings); err != nil {
		return nil, fmt.Errorf("parsing schedule settings from parameter: %w", err)
	}

	return &settings, nil
}

// SetScheduleSettings validates and stores the settings.
func (s *ScheduleParameter) SetScheduleSettings(ctx context.Context, settings schedule.Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}

	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encoding schedule settings: %w", err)
	}

	_, err = s.client.PutParameter(ctx, &ssm.PutParameterInput{
		Name:      aws.String(s.parameterName),
		Overwrite: aws.Bool(true),
		Type:      types.ParameterTypeString,
		Value:     aws.String(string(data)),
	})
	if err != nil {
		return fmt.Errorf("putting parameter to SSM: %w", err)
	}

	return nil
}
