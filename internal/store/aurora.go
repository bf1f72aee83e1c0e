package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rdsdata"
	rdsdatatypes "github.com/aws/aws-sdk-go-v2/service/rdsdata/types"
	"github.com/rs/zerolog/log"

	"github.com/fpang/media-ingest/internal/media"
)

// dataAPI is the subset of the RDS Data API client used by AuroraRepository.
type dataAPI interface {
	ExecuteStatement(ctx context.Context, in *rdsdata.ExecuteStatementInput, optFns ...func(*rdsdata.Options)) (*rdsdata.ExecuteStatementOutput, error)
	BatchExecuteStatement(ctx context.Context, in *rdsdata.BatchExecuteStatementInput, optFns ...func(*rdsdata.Options)) (*rdsdata.BatchExecuteStatementOutput, error)
	BeginTransaction(ctx context.Context, in *rdsdata.BeginTransactionInput, optFns ...func(*rdsdata.Options)) (*rdsdata.BeginTransactionOutput, error)
	CommitTransaction(ctx context.Context, in *rdsdata.CommitTransactionInput, optFns ...func(*rdsdata.Options)) (*rdsdata.CommitTransactionOutput, error)
	RollbackTransaction(ctx context.Context, in *rdsdata.RollbackTransactionInput, optFns ...func(*rdsdata.Options)) (*rdsdata.RollbackTransactionOutput, error)
}

// AuroraRepository implements Repository on Aurora PostgreSQL (pgvector)
// through the RDS Data API. The table matches schema.sql except that
// publish_timestamp is timestamptz, album_children is jsonb and embedding
// is vector.
type AuroraRepository struct {
	client     dataAPI
	clusterARN string
	secretARN  string
	database   string
}

// Compile-time interface check.
var _ Repository = (*AuroraRepository)(nil)

// NewAuroraRepository creates a repository for the given cluster.
func NewAuroraRepository(client dataAPI, clusterARN, secretARN, database string) *AuroraRepository {
	return &AuroraRepository{
		client:     client,
		clusterARN: clusterARN,
		secretARN:  secretARN,
		database:   database,
	}
}

const auroraUpsertSQL = `INSERT INTO instagram_media (user_id, media_id, publish_timestamp, media_type, media_url, permalink,
		thumbnail_url, caption, description, parent_media_id, album_children, created_at, updated_at)
	VALUES (:user_id, :media_id, :publish_timestamp::timestamptz, :media_type, :media_url, :permalink,
		:thumbnail_url, :caption, :description, :parent_media_id, :album_children::jsonb, NOW(), NOW())
	ON CONFLICT (media_id, user_id) DO UPDATE SET
		publish_timestamp = EXCLUDED.publish_timestamp, media_type = EXCLUDED.media_type, media_url = EXCLUDED.media_url,
		permalink = EXCLUDED.permalink, thumbnail_url = EXCLUDED.thumbnail_url, caption = EXCLUDED.caption,
		description = EXCLUDED.description, parent_media_id = EXCLUDED.parent_media_id,
		album_children = EXCLUDED.album_children, updated_at = NOW()`

const auroraSelectSQL = `SELECT user_id, media_id,
		(EXTRACT(EPOCH FROM publish_timestamp) * 1000)::bigint AS publish_ms,
		media_type, media_url, permalink, thumbnail_url, caption, description, parent_media_id,
		album_children::text AS album_children, embedding::text AS embedding
	FROM instagram_media`

const auroraOrder = ` ORDER BY publish_timestamp DESC, parent_media_id IS NOT NULL, media_id DESC`

// Upsert implements Repository. Each chunk runs in its own Data API transaction.
func (a *AuroraRepository) Upsert(ctx context.Context, items []media.Item, batchSize int) (int, error) {
	written := 0
	for n, batch := range chunk(items, batchSize) {
		if err := a.upsertBatch(ctx, batch); err != nil {
			log.Error().Err(err).Int("batch", n).Int("size", len(batch)).Msg("Aurora upsert batch failed")
			return written, fmt.Errorf("upsert batch %d: %w", n, err)
		}
		written += len(batch)
		log.Debug().Int("batch", n).Int("size", len(batch)).Int("written", written).Msg("Media batch committed")
	}
	return written, nil
}

func (a *AuroraRepository) upsertBatch(ctx context.Context, batch []media.Item) error {
	sets := make([][]rdsdatatypes.SqlParameter, 0, len(batch))
	for _, item := range batch {
		params, err := upsertParams(item)
		if err != nil {
			return err
		}
		sets = append(sets, params)
	}

	tx, err := a.client.BeginTransaction(ctx, &rdsdata.BeginTransactionInput{
		ResourceArn: aws.String(a.clusterARN),
		SecretArn:   aws.String(a.secretARN),
		Database:    aws.String(a.database),
	})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	_, err = a.client.BatchExecuteStatement(ctx, &rdsdata.BatchExecuteStatementInput{
		ResourceArn:   aws.String(a.clusterARN),
		SecretArn:     aws.String(a.secretARN),
		Database:      aws.String(a.database),
		Sql:           aws.String(auroraUpsertSQL),
		ParameterSets: sets,
		TransactionId: tx.TransactionId,
	})
	if err != nil {
		a.rollback(ctx, tx.TransactionId)
		return fmt.Errorf("batch execute: %w", err)
	}

	if _, err := a.client.CommitTransaction(ctx, &rdsdata.CommitTransactionInput{
		ResourceArn:   aws.String(a.clusterARN),
		SecretArn:     aws.String(a.secretARN),
		TransactionId: tx.TransactionId,
	}); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (a *AuroraRepository) rollback(ctx context.Context, txID *string) {
	_, err := a.client.RollbackTransaction(ctx, &rdsdata.RollbackTransactionInput{
		ResourceArn:   aws.String(a.clusterARN),
		SecretArn:     aws.String(a.secretARN),
		TransactionId: txID,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Aurora rollback failed")
	}
}

func upsertParams(item media.Item) ([]rdsdatatypes.SqlParameter, error) {
	children := optionalString(nil)
	if item.AlbumChildren != nil {
		data, err := json.Marshal(item.AlbumChildren)
		if err != nil {
			return nil, fmt.Errorf("encode album children: %w", err)
		}
		children = stringValue(string(data))
	}
	return []rdsdatatypes.SqlParameter{
		{Name: aws.String("user_id"), Value: stringValue(item.UserID)},
		{Name: aws.String("media_id"), Value: stringValue(item.MediaID)},
		{Name: aws.String("publish_timestamp"), Value: stringValue(item.PublishTimestamp.UTC().Format(time.RFC3339))},
		{Name: aws.String("media_type"), Value: stringValue(string(item.MediaType))},
		{Name: aws.String("media_url"), Value: stringValue(item.MediaURL)},
		{Name: aws.String("permalink"), Value: optionalString(item.Permalink)},
		{Name: aws.String("thumbnail_url"), Value: optionalString(item.ThumbnailURL)},
		{Name: aws.String("caption"), Value: optionalString(item.Caption)},
		{Name: aws.String("description"), Value: optionalString(item.Description)},
		{Name: aws.String("parent_media_id"), Value: optionalString(item.ParentMediaID)},
		{Name: aws.String("album_children"), Value: children},
	}, nil
}

// GetByID implements Repository.
func (a *AuroraRepository) GetByID(ctx context.Context, userID, mediaID string) (*media.Item, error) {
	items, err := a.query(ctx, auroraSelectSQL+` WHERE user_id = :user_id AND media_id = :media_id`,
		[]rdsdatatypes.SqlParameter{
			{Name: aws.String("user_id"), Value: stringValue(userID)},
			{Name: aws.String("media_id"), Value: stringValue(mediaID)},
		})
	if err != nil {
		return nil, fmt.Errorf("get media %s/%s: %w", userID, mediaID, err)
	}
	if len(items) == 0 {
		return nil, nil
	}
	return &items[0], nil
}

// GetRecent implements Repository.
func (a *AuroraRepository) GetRecent(ctx context.Context, userID string, n int, mediaType media.Type) ([]media.Item, error) {
	if n <= 0 {
		return nil, nil
	}
	where, params := auroraFilter(userID, mediaType, "")
	params = append(params, rdsdatatypes.SqlParameter{Name: aws.String("limit"), Value: &rdsdatatypes.FieldMemberLongValue{Value: int64(n)}})
	return a.query(ctx, auroraSelectSQL+where+auroraOrder+` LIMIT :limit`, params)
}

// GetAll implements Repository.
func (a *AuroraRepository) GetAll(ctx context.Context, userID string, mediaType media.Type) ([]media.Item, error) {
	where, params := auroraFilter(userID, mediaType, "")
	return a.query(ctx, auroraSelectSQL+where+auroraOrder, params)
}

// GetLatest implements Repository.
func (a *AuroraRepository) GetLatest(ctx context.Context, userID string) (*media.Item, error) {
	where, params := auroraFilter(userID, "", topLevel)
	items, err := a.query(ctx, auroraSelectSQL+where+auroraOrder+` LIMIT 1`, params)
	if err != nil {
		return nil, fmt.Errorf("get latest media %s: %w", userID, err)
	}
	if len(items) == 0 {
		return nil, nil
	}
	return &items[0], nil
}

// GetUnenriched implements Repository.
func (a *AuroraRepository) GetUnenriched(ctx context.Context, userID string, mediaType media.Type, limit int) ([]media.Item, error) {
	where, params := auroraFilter(userID, mediaType, unenriched)
	sql := auroraSelectSQL + where + auroraOrder
	if limit > 0 {
		sql += ` LIMIT :limit`
		params = append(params, rdsdatatypes.SqlParameter{Name: aws.String("limit"), Value: &rdsdatatypes.FieldMemberLongValue{Value: int64(limit)}})
	}
	return a.query(ctx, sql, params)
}

// UpdateEmbeddings implements Repository with one batched statement.
func (a *AuroraRepository) UpdateEmbeddings(ctx context.Context, userID string, embeddings map[string][]float32) (int, error) {
	if len(embeddings) == 0 {
		return 0, nil
	}
	sets := make([][]rdsdatatypes.SqlParameter, 0, len(embeddings))
	for mediaID, emb := range embeddings {
		sets = append(sets, []rdsdatatypes.SqlParameter{
			{Name: aws.String("embedding"), Value: stringValue(formatVector(emb))},
			{Name: aws.String("user_id"), Value: stringValue(userID)},
			{Name: aws.String("media_id"), Value: stringValue(mediaID)},
		})
	}
	out, err := a.client.BatchExecuteStatement(ctx, &rdsdata.BatchExecuteStatementInput{
		ResourceArn:   aws.String(a.clusterARN),
		SecretArn:     aws.String(a.secretARN),
		Database:      aws.String(a.database),
		Sql:           aws.String(`UPDATE instagram_media SET embedding = :embedding::vector, updated_at = NOW() WHERE user_id = :user_id AND media_id = :media_id`),
		ParameterSets: sets,
	})
	if err != nil {
		log.Error().Err(err).Str("userId", userID).Int("count", len(embeddings)).Msg("UpdateEmbeddings failed")
		return 0, fmt.Errorf("update embeddings: %w", err)
	}
	// The Data API does not report per-set row counts for batch updates.
	return len(out.UpdateResults), nil
}

// DeleteUser implements Repository.
func (a *AuroraRepository) DeleteUser(ctx context.Context, userID string) (int, error) {
	out, err := a.client.ExecuteStatement(ctx, &rdsdata.ExecuteStatementInput{
		ResourceArn: aws.String(a.clusterARN),
		SecretArn:   aws.String(a.secretARN),
		Database:    aws.String(a.database),
		Sql:         aws.String(`DELETE FROM instagram_media WHERE user_id = :user_id`),
		Parameters:  []rdsdatatypes.SqlParameter{{Name: aws.String("user_id"), Value: stringValue(userID)}},
	})
	if err != nil {
		return 0, fmt.Errorf("delete media of %s: %w", userID, err)
	}
	log.Info().Str("userId", userID).Int64("deleted", out.NumberOfRecordsUpdated).Msg("User media deleted")
	return int(out.NumberOfRecordsUpdated), nil
}

func auroraFilter(userID string, mediaType media.Type, extra string) (string, []rdsdatatypes.SqlParameter) {
	where := ` WHERE user_id = :user_id`
	params := []rdsdatatypes.SqlParameter{{Name: aws.String("user_id"), Value: stringValue(userID)}}
	if mediaType != "" {
		where += ` AND media_type = :media_type`
		params = append(params, rdsdatatypes.SqlParameter{Name: aws.String("media_type"), Value: stringValue(string(mediaType))})
	}
	if extra != "" {
		where += ` AND ` + extra
	}
	return where, params
}

// auroraRow is one record of a JSON-formatted Data API result.
type auroraRow struct {
	UserID        string  `json:"user_id"`
	MediaID       string  `json:"media_id"`
	PublishMS     int64   `json:"publish_ms"`
	MediaType     string  `json:"media_type"`
	MediaURL      string  `json:"media_url"`
	Permalink     *string `json:"permalink"`
	ThumbnailURL  *string `json:"thumbnail_url"`
	Caption       *string `json:"caption"`
	Description   *string `json:"description"`
	ParentMediaID *string `json:"parent_media_id"`
	AlbumChildren *string `json:"album_children"`
	Embedding     *string `json:"embedding"`
}

func (a *AuroraRepository) query(ctx context.Context, sql string, params []rdsdatatypes.SqlParameter) ([]media.Item, error) {
	out, err := a.client.ExecuteStatement(ctx, &rdsdata.ExecuteStatementInput{
		ResourceArn:     aws.String(a.clusterARN),
		SecretArn:       aws.String(a.secretARN),
		Database:        aws.String(a.database),
		Sql:             aws.String(sql),
		Parameters:      params,
		FormatRecordsAs: rdsdatatypes.RecordsFormatTypeJson,
	})
	if err != nil {
		return nil, fmt.Errorf("execute statement: %w", err)
	}
	if out.FormattedRecords == nil || *out.FormattedRecords == "" {
		return nil, nil
	}

	var rows []auroraRow
	if err := json.Unmarshal([]byte(*out.FormattedRecords), &rows); err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}
	items := make([]media.Item, 0, len(rows))
	for _, row := range rows {
		item, err := row.toItem()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func (r auroraRow) toItem() (media.Item, error) {
	item := media.Item{
		UserID:           r.UserID,
		MediaID:          r.MediaID,
		PublishTimestamp: time.UnixMilli(r.PublishMS).UTC(),
		MediaType:        media.Type(r.MediaType),
		MediaURL:         r.MediaURL,
		Permalink:        r.Permalink,
		ThumbnailURL:     r.ThumbnailURL,
		Caption:          r.Caption,
		Description:      r.Description,
		ParentMediaID:    r.ParentMediaID,
	}
	if r.AlbumChildren != nil {
		if err := json.Unmarshal([]byte(*r.AlbumChildren), &item.AlbumChildren); err != nil {
			return item, fmt.Errorf("decode album children of %s: %w", r.MediaID, err)
		}
	}
	if r.Embedding != nil {
		emb, err := parseVector(*r.Embedding)
		if err != nil {
			return item, fmt.Errorf("decode embedding of %s: %w", r.MediaID, err)
		}
		item.Embedding = emb
	}
	return item, nil
}

func stringValue(s string) rdsdatatypes.Field {
	return &rdsdatatypes.FieldMemberStringValue{Value: s}
}

func optionalString(s *string) rdsdatatypes.Field {
	if s == nil {
		return &rdsdatatypes.FieldMemberIsNull{Value: true}
	}
	return &rdsdatatypes.FieldMemberStringValue{Value: *s}
}

// formatVector renders an embedding in pgvector text form: [0.1,0.2,...].
func formatVector(emb []float32) string {
	if len(emb) == 0 {
		return "[]"
	}
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range emb {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(v), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

// parseVector is the inverse of formatVector.
func parseVector(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
	if s == "" {
		return []float32{}, nil
	}
	fields := strings.Split(s, ",")
	out := make([]float32, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 32)
		if err != nil {
			return nil, err
		}
		out[i] = float32(v)
	}
	return out, nil
}
