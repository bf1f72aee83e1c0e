package webhook

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/rs/zerolog/log"
)

type invokeAPI interface {
	Invoke(ctx context.Context, params *lambda.InvokeInput, optFns ...func(*lambda.Options)) (*lambda.InvokeOutput, error)
}

// LambdaTrigger starts ingestion by invoking the ingest function
// asynchronously with {"userId": ...}.
type LambdaTrigger struct {
	client   invokeAPI
	function string
}

// NewLambdaTrigger creates a LambdaTrigger for the named function or ARN.
func NewLambdaTrigger(client invokeAPI, function string) *LambdaTrigger {
	return &LambdaTrigger{client: client, function: function}
}

// Trigger implements Trigger.
func (t *LambdaTrigger) Trigger(ctx context.Context, userID string) error {
	payload, err := json.Marshal(map[string]string{"userId": userID})
	if err != nil {
		return fmt.Errorf("marshal ingest payload: %w", err)
	}
	out, err := t.client.Invoke(ctx, &lambda.InvokeInput{
		FunctionName:   aws.String(t.function),
		InvocationType: types.InvocationTypeEvent,
		Payload:        payload,
	})
	if err != nil {
		return fmt.Errorf("invoke %s: %w", t.function, err)
	}
	if out.StatusCode != 202 {
		return fmt.Errorf("invoke %s: unexpected status %d", t.function, out.StatusCode)
	}
	log.Debug().Str("userId", userID).Str("function", t.function).Msg("Ingestion triggered")
	return nil
}
