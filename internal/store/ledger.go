package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog/log"
)

// ErrRunInProgress is returned by Acquire when another run holds the user's lease.
var ErrRunInProgress = errors.New("ingestion run already in progress")

// RunRecordTTL bounds how long run records are retained.
const RunRecordTTL = 30 * 24 * time.Hour

// DynamoDB key layout: every record of a user shares PK USER#{userId}.
const (
	pkUserPrefix = "USER#"
	skLease      = "LEASE"
	skRunPrefix  = "RUN#"
)

// RunRecord summarizes one ingestion run.
type RunRecord struct {
	UserID     string    `dynamodbav:"userId"`
	RunID      string    `dynamodbav:"runId"`
	Status     string    `dynamodbav:"status"`
	State      string    `dynamodbav:"state"`
	StartedAt  time.Time `dynamodbav:"startedAt"`
	FinishedAt time.Time `dynamodbav:"finishedAt"`
	Fetched    int       `dynamodbav:"fetched"`
	Saved      int       `dynamodbav:"saved"`
	Enriched   int       `dynamodbav:"enriched"`
	Error      string    `dynamodbav:"error,omitempty"`
}

type lease struct {
	RunID      string `dynamodbav:"runId"`
	AcquiredAt int64  `dynamodbav:"acquiredAt"`
}

// RunLedger serializes runs per user and keeps a history of their outcomes.
type RunLedger interface {
	// Acquire takes the user's run lease for ttl. Returns ErrRunInProgress if
	// an unexpired lease is held by another run.
	Acquire(ctx context.Context, userID, runID string, ttl time.Duration) error

	// Release drops the lease if runID still holds it.
	Release(ctx context.Context, userID, runID string) error

	// Record stores the outcome of a finished run.
	Record(ctx context.Context, rec *RunRecord) error

	// LastRun returns the most recently started run, or nil, nil.
	LastRun(ctx context.Context, userID string) (*RunRecord, error)
}

// dynamoAPI is the subset of the DynamoDB client used by DynamoRunLedger.
type dynamoAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DynamoRunLedger implements RunLedger on a single DynamoDB table with a
// PK/SK key schema and an expiresAt TTL attribute.
type DynamoRunLedger struct {
	client    dynamoAPI
	tableName string
	now       func() time.Time
}

var _ RunLedger = (*DynamoRunLedger)(nil)

// NewDynamoRunLedger creates a ledger for the given table.
func NewDynamoRunLedger(client dynamoAPI, tableName string) *DynamoRunLedger {
	return &DynamoRunLedger{client: client, tableName: tableName, now: time.Now}
}

func userPK(userID string) string {
	return pkUserPrefix + userID
}

// runSK sorts runs chronologically within a user's partition.
func runSK(rec *RunRecord) string {
	return skRunPrefix + rec.StartedAt.UTC().Format(time.RFC3339Nano) + "#" + rec.RunID
}

func keyOf(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

// putItem marshals data and writes it with PK, SK and expiresAt attached.
func (l *DynamoRunLedger) putItem(ctx context.Context, pk, sk string, data any, expires time.Time, cond *dynamodb.PutItemInput) error {
	item, err := attributevalue.MarshalMap(data)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	item["PK"] = &types.AttributeValueMemberS{Value: pk}
	item["SK"] = &types.AttributeValueMemberS{Value: sk}
	item["expiresAt"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(expires.Unix(), 10)}

	in := &dynamodb.PutItemInput{TableName: &l.tableName, Item: item}
	if cond != nil {
		in.ConditionExpression = cond.ConditionExpression
		in.ExpressionAttributeValues = cond.ExpressionAttributeValues
	}
	if _, err := l.client.PutItem(ctx, in); err != nil {
		return fmt.Errorf("PutItem PK=%s SK=%s: %w", pk, sk, err)
	}
	return nil
}

// Acquire implements RunLedger with a conditional put on the LEASE item.
func (l *DynamoRunLedger) Acquire(ctx context.Context, userID, runID string, ttl time.Duration) error {
	now := l.now()
	cond := &dynamodb.PutItemInput{
		ConditionExpression: aws.String("attribute_not_exists(PK) OR expiresAt < :now OR runId = :runId"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now":   &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix(), 10)},
			":runId": &types.AttributeValueMemberS{Value: runID},
		},
	}
	err := l.putItem(ctx, userPK(userID), skLease, lease{RunID: runID, AcquiredAt: now.Unix()}, now.Add(ttl), cond)
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		log.Warn().Str("userId", userID).Str("runId", runID).Msg("Run lease held by another run")
		return ErrRunInProgress
	}
	if err != nil {
		return fmt.Errorf("acquire lease: %w", err)
	}
	log.Debug().Str("userId", userID).Str("runId", runID).Dur("ttl", ttl).Msg("Run lease acquired")
	return nil
}

// Release implements RunLedger. A lease taken over by another run is left alone.
func (l *DynamoRunLedger) Release(ctx context.Context, userID, runID string) error {
	_, err := l.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           &l.tableName,
		Key:                 keyOf(userPK(userID), skLease),
		ConditionExpression: aws.String("runId = :runId"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":runId": &types.AttributeValueMemberS{Value: runID},
		},
	})
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		log.Debug().Str("userId", userID).Str("runId", runID).Msg("Run lease no longer held")
		return nil
	}
	if err != nil {
		return fmt.Errorf("DeleteItem PK=%s SK=%s: %w", userPK(userID), skLease, err)
	}
	return nil
}

// Record implements RunLedger.
func (l *DynamoRunLedger) Record(ctx context.Context, rec *RunRecord) error {
	return l.putItem(ctx, userPK(rec.UserID), runSK(rec), rec, l.now().Add(RunRecordTTL), nil)
}

// LastRun implements RunLedger.
func (l *DynamoRunLedger) LastRun(ctx context.Context, userID string) (*RunRecord, error) {
	out, err := l.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              &l.tableName,
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :skPrefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":       &types.AttributeValueMemberS{Value: userPK(userID)},
			":skPrefix": &types.AttributeValueMemberS{Value: skRunPrefix},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("query runs for %s: %w", userID, err)
	}
	if len(out.Items) == 0 {
		return nil, nil
	}
	var rec RunRecord
	if err := attributevalue.UnmarshalMap(out.Items[0], &rec); err != nil {
		return nil, fmt.Errorf("unmarshal run record: %w", err)
	}
	return &rec, nil
}

// MemoryRunLedger is a process-local RunLedger for the CLI and tests.
type MemoryRunLedger struct {
	mu     sync.Mutex
	leases map[string]memoryLease
	runs   map[string][]RunRecord
	now    func() time.Time
}

type memoryLease struct {
	runID   string
	expires time.Time
}

var _ RunLedger = (*MemoryRunLedger)(nil)

// NewMemoryRunLedger creates an empty in-memory ledger.
func NewMemoryRunLedger() *MemoryRunLedger {
	return &MemoryRunLedger{
		leases: make(map[string]memoryLease),
		runs:   make(map[string][]RunRecord),
		now:    time.Now,
	}
}

// Acquire implements RunLedger.
func (m *MemoryRunLedger) Acquire(_ context.Context, userID, runID string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if held, ok := m.leases[userID]; ok && held.runID != runID && now.Before(held.expires) {
		return ErrRunInProgress
	}
	m.leases[userID] = memoryLease{runID: runID, expires: now.Add(ttl)}
	return nil
}

// Release implements RunLedger.
func (m *MemoryRunLedger) Release(_ context.Context, userID, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if held, ok := m.leases[userID]; ok && held.runID == runID {
		delete(m.leases, userID)
	}
	return nil
}

// Record implements RunLedger.
func (m *MemoryRunLedger) Record(_ context.Context, rec *RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	runs := append(m.runs[rec.UserID], *rec)
	sort.SliceStable(runs, func(i, j int) bool { return runs[i].StartedAt.Before(runs[j].StartedAt) })
	m.runs[rec.UserID] = runs
	return nil
}

// LastRun implements RunLedger.
func (m *MemoryRunLedger) LastRun(_ context.Context, userID string) (*RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	runs := m.runs[userID]
	if len(runs) == 0 {
		return nil, nil
	}
	rec := runs[len(runs)-1]
	return &rec, nil
}
