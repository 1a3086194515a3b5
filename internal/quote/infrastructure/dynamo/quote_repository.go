package dynamo

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"serramenti/internal/observability/metrics"
	quote "serramenti/internal/quote/domain"
)

const (
	defaultQuotesTable   = "quotes"
	defaultCountersTable = "quote_counters"
	defaultOwnerIndex    = "owner_id-number-index"

	maxCounterAttempts = 5
)

// API is the subset of the DynamoDB client used by the repository.
type API interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

type quoteItem struct {
	ID               string `dynamodbav:"id"`
	OwnerID          string `dynamodbav:"owner_id"`
	Number           int64  `dynamodbav:"number"`
	Status           string `dynamodbav:"status"`
	FrameID          string `dynamodbav:"frame_id"`
	RateTableID      string `dynamodbav:"rate_table_id"`
	RateTableVersion int    `dynamodbav:"rate_table_version"`
	Total            string `dynamodbav:"total"`
	Currency         string `dynamodbav:"currency"`
	Calculation      string `dynamodbav:"calculation"`
	ClientRef        string `dynamodbav:"client_ref,omitempty"`
	Note             string `dynamodbav:"note,omitempty"`
	SnapshotHash     string `dynamodbav:"snapshot_hash,omitempty"`
	Revision         int64  `dynamodbav:"revision"`
	CreatedAt        string `dynamodbav:"created_at"`
	UpdatedAt        string `dynamodbav:"updated_at"`
	FinalizedAt      string `dynamodbav:"finalized_at,omitempty"`
}

// QuoteRepository persists quotes in DynamoDB.
//
// Table requirements:
//   - quotes: PK id (string), GSI owner_id (hash) + number (range)
//   - quote_counters: PK owner_id (string)
//
// Numbers are allocated by a conditional counter update written in the same
// transaction as the quote, so a failed put never consumes a number.
type QuoteRepository struct {
	ddb           API
	quotesTable   string
	countersTable string
	ownerIndex    string
}

// Option configures the repository.
type Option func(*QuoteRepository)

// WithTables overrides table and index names.
func WithTables(quotes, counters, ownerIndex string) Option {
	return func(r *QuoteRepository) {
		if quotes != "" {
			r.quotesTable = quotes
		}
		if counters != "" {
			r.countersTable = counters
		}
		if ownerIndex != "" {
			r.ownerIndex = ownerIndex
		}
	}
}

// NewQuoteRepository constructs a repository.
func NewQuoteRepository(ddb API, opts ...Option) *QuoteRepository {
	r := &QuoteRepository{
		ddb:           ddb,
		quotesTable:   defaultQuotesTable,
		countersTable: defaultCountersTable,
		ownerIndex:    defaultOwnerIndex,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// CreateNext allocates the owner's next number and writes the quote atomically.
func (r *QuoteRepository) CreateNext(ctx context.Context, q *quote.Quote) (_ int64, err error) {
	start := time.Now()
	defer func() { observe("dynamo.create_next", start, err) }()
	if r == nil || r.ddb == nil {
		return 0, errors.New("quote repo: nil dynamodb client")
	}
	if q == nil {
		return 0, quote.ErrNilQuote
	}

	for attempt := 0; attempt < maxCounterAttempts; attempt++ {
		last, err := r.lastNumber(ctx, q.OwnerID)
		if err != nil {
			return 0, err
		}
		next := last + 1

		staged := q.Clone()
		staged.Number = next
		staged.Revision = 1
		item, err := toItem(staged)
		if err != nil {
			return 0, err
		}
		av, err := attributevalue.MarshalMap(item)
		if err != nil {
			return 0, err
		}

		_, err = r.ddb.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
			TransactItems: []types.TransactWriteItem{
				{Update: r.counterUpdate(q.OwnerID, last, next)},
				{Put: &types.Put{
					TableName:                aws.String(r.quotesTable),
					Item:                     av,
					ConditionExpression:      aws.String("attribute_not_exists(#id)"),
					ExpressionAttributeNames: map[string]string{"#id": "id"},
				}},
			},
		})
		if err == nil {
			q.Number = next
			q.Revision = 1
			return next, nil
		}

		var canceled *types.TransactionCanceledException
		if !errors.As(err, &canceled) {
			return 0, err
		}
		reasons := canceled.CancellationReasons
		if len(reasons) > 1 && conditionFailed(reasons[1]) {
			return 0, quote.ErrDuplicateID
		}
		if len(reasons) > 0 && conditionFailed(reasons[0]) {
			continue
		}
		return 0, err
	}
	return 0, quote.ErrNumberConflict
}

func (r *QuoteRepository) counterUpdate(ownerID string, last, next int64) *types.Update {
	update := &types.Update{
		TableName: aws.String(r.countersTable),
		Key: map[string]types.AttributeValue{
			"owner_id": &types.AttributeValueMemberS{Value: ownerID},
		},
		UpdateExpression:         aws.String("SET #last = :next"),
		ExpressionAttributeNames: map[string]string{"#last": "last_number"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":next": &types.AttributeValueMemberN{Value: strconv.FormatInt(next, 10)},
		},
	}
	if last == 0 {
		update.ConditionExpression = aws.String("attribute_not_exists(#last)")
	} else {
		update.ConditionExpression = aws.String("#last = :last")
		update.ExpressionAttributeValues[":last"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(last, 10)}
	}
	return update
}

func (r *QuoteRepository) lastNumber(ctx context.Context, ownerID string) (int64, error) {
	out, err := r.ddb.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.countersTable),
		Key: map[string]types.AttributeValue{
			"owner_id": &types.AttributeValueMemberS{Value: ownerID},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return 0, err
	}
	if len(out.Item) == 0 {
		return 0, nil
	}
	var counter struct {
		LastNumber int64 `dynamodbav:"last_number"`
	}
	if err := attributevalue.UnmarshalMap(out.Item, &counter); err != nil {
		return 0, err
	}
	return counter.LastNumber, nil
}

// ReplaceDraft overwrites a draft; finalized items are left untouched.
func (r *QuoteRepository) ReplaceDraft(ctx context.Context, q *quote.Quote) (err error) {
	start := time.Now()
	defer func() { observe("dynamo.replace_draft", start, err) }()
	if r == nil || r.ddb == nil {
		return errors.New("quote repo: nil dynamodb client")
	}
	if q == nil {
		return quote.ErrNilQuote
	}
	calc, err := quote.EncodeCalculation(q.Calculation)
	if err != nil {
		return err
	}
	values := map[string]types.AttributeValue{
		":frame":    &types.AttributeValueMemberS{Value: q.Calculation.FrameID},
		":table":    &types.AttributeValueMemberS{Value: q.Calculation.RateTableID},
		":version":  &types.AttributeValueMemberN{Value: strconv.Itoa(q.Calculation.RateTableVersion)},
		":total":    &types.AttributeValueMemberS{Value: q.Calculation.Total.String()},
		":currency": &types.AttributeValueMemberS{Value: q.Calculation.Currency},
		":calc":     &types.AttributeValueMemberS{Value: string(calc)},
		":ref":      &types.AttributeValueMemberS{Value: q.ClientRef},
		":note":     &types.AttributeValueMemberS{Value: q.Note},
		":updated":  &types.AttributeValueMemberS{Value: formatTime(q.UpdatedAt)},
		":one":      &types.AttributeValueMemberN{Value: "1"},
	}
	names := map[string]string{
		"#frame":    "frame_id",
		"#table":    "rate_table_id",
		"#version":  "rate_table_version",
		"#total":    "total",
		"#currency": "currency",
		"#calc":     "calculation",
		"#ref":      "client_ref",
		"#note":     "note",
		"#updated":  "updated_at",
		"#revision": "revision",
	}
	expr := "SET #frame = :frame, #table = :table, #version = :version, #total = :total, " +
		"#currency = :currency, #calc = :calc, #ref = :ref, #note = :note, #updated = :updated, " +
		"#revision = if_not_exists(#revision, :one) + :one"
	return r.conditionalUpdate(ctx, q.OwnerID, q.ID, expr, "", values, names)
}

// MarkFinalized marks a draft as finalized if it is still at revision.
// Items written before revisions existed count as revision 1.
func (r *QuoteRepository) MarkFinalized(ctx context.Context, ownerID, id string, revision int64, hash string, at time.Time) (err error) {
	start := time.Now()
	defer func() { observe("dynamo.mark_finalized", start, err) }()
	if r == nil || r.ddb == nil {
		return errors.New("quote repo: nil dynamodb client")
	}
	values := map[string]types.AttributeValue{
		":finalized": &types.AttributeValueMemberS{Value: string(quote.StatusFinalized)},
		":hash":      &types.AttributeValueMemberS{Value: hash},
		":at":        &types.AttributeValueMemberS{Value: formatTime(at)},
		":revision":  &types.AttributeValueMemberN{Value: strconv.FormatInt(revision, 10)},
	}
	cond := "#revision = :revision"
	if revision <= 1 {
		cond = "(attribute_not_exists(#revision) OR #revision = :revision)"
	}
	expr := "SET #status = :finalized, snapshot_hash = :hash, finalized_at = :at, updated_at = :at"
	return r.conditionalUpdate(ctx, ownerID, id, expr, cond, values, map[string]string{"#revision": "revision"})
}

func (r *QuoteRepository) conditionalUpdate(
	ctx context.Context,
	ownerID, id, expr, cond string,
	values map[string]types.AttributeValue,
	names map[string]string,
) error {
	merged := map[string]string{"#id": "id", "#owner": "owner_id", "#status": "status"}
	for k, v := range names {
		merged[k] = v
	}
	values[":owner"] = &types.AttributeValueMemberS{Value: ownerID}
	values[":draft"] = &types.AttributeValueMemberS{Value: string(quote.StatusDraft)}
	condition := "attribute_exists(#id) AND #owner = :owner AND #status = :draft"
	if cond != "" {
		condition += " AND " + cond
	}

	_, err := r.ddb.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(r.quotesTable),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
		UpdateExpression:                    aws.String(expr),
		ConditionExpression:                 aws.String(condition),
		ExpressionAttributeNames:            merged,
		ExpressionAttributeValues:           values,
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err == nil {
		return nil
	}
	var cfe *types.ConditionalCheckFailedException
	if !errors.As(err, &cfe) {
		return err
	}
	if len(cfe.Item) == 0 {
		return quote.ErrQuoteNotFound
	}
	var existing quoteItem
	if err := attributevalue.UnmarshalMap(cfe.Item, &existing); err != nil {
		return err
	}
	if existing.OwnerID != ownerID {
		return quote.ErrQuoteNotFound
	}
	if existing.Status == string(quote.StatusDraft) {
		return quote.ErrDraftChanged
	}
	return quote.ErrNotDraft
}

// GetByID fetches a quote of an owner.
func (r *QuoteRepository) GetByID(ctx context.Context, ownerID, id string) (_ *quote.Quote, err error) {
	start := time.Now()
	defer func() { observe("dynamo.get", start, err) }()
	if r == nil || r.ddb == nil {
		return nil, errors.New("quote repo: nil dynamodb client")
	}
	out, err := r.ddb.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.quotesTable),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if len(out.Item) == 0 {
		return nil, quote.ErrQuoteNotFound
	}
	var it quoteItem
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return nil, err
	}
	if it.OwnerID != ownerID {
		return nil, quote.ErrQuoteNotFound
	}
	return fromItem(it)
}

// List returns the owner's quotes, highest number first.
func (r *QuoteRepository) List(ctx context.Context, ownerID string, limit int) (_ []quote.Quote, err error) {
	start := time.Now()
	defer func() { observe("dynamo.list", start, err) }()
	if r == nil || r.ddb == nil {
		return nil, errors.New("quote repo: nil dynamodb client")
	}
	if limit <= 0 {
		limit = 100
	}
	out, err := r.ddb.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.quotesTable),
		IndexName:              aws.String(r.ownerIndex),
		KeyConditionExpression: aws.String("owner_id = :owner"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":owner": &types.AttributeValueMemberS{Value: ownerID},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(limit)),
	})
	if err != nil {
		return nil, err
	}
	var items []quoteItem
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &items); err != nil {
		return nil, err
	}
	result := make([]quote.Quote, 0, len(items))
	for _, it := range items {
		q, err := fromItem(it)
		if err != nil {
			return nil, err
		}
		result = append(result, *q)
	}
	return result, nil
}

func conditionFailed(reason types.CancellationReason) bool {
	return aws.ToString(reason.Code) == "ConditionalCheckFailed"
}

func toItem(q *quote.Quote) (quoteItem, error) {
	calc, err := quote.EncodeCalculation(q.Calculation)
	if err != nil {
		return quoteItem{}, err
	}
	it := quoteItem{
		ID:               q.ID,
		OwnerID:          q.OwnerID,
		Number:           q.Number,
		Status:           string(q.Status),
		FrameID:          q.Calculation.FrameID,
		RateTableID:      q.Calculation.RateTableID,
		RateTableVersion: q.Calculation.RateTableVersion,
		Total:            q.Calculation.Total.String(),
		Currency:         q.Calculation.Currency,
		Calculation:      string(calc),
		ClientRef:        q.ClientRef,
		Note:             q.Note,
		SnapshotHash:     q.SnapshotHash,
		Revision:         q.Revision,
		CreatedAt:        formatTime(q.CreatedAt),
		UpdatedAt:        formatTime(q.UpdatedAt),
	}
	if !q.FinalizedAt.IsZero() {
		it.FinalizedAt = formatTime(q.FinalizedAt)
	}
	return it, nil
}

func fromItem(it quoteItem) (*quote.Quote, error) {
	calc, err := quote.DecodeCalculation([]byte(it.Calculation))
	if err != nil {
		return nil, err
	}
	q := &quote.Quote{
		ID:           it.ID,
		OwnerID:      it.OwnerID,
		Number:       it.Number,
		Status:       quote.Status(it.Status),
		Calculation:  calc,
		ClientRef:    it.ClientRef,
		Note:         it.Note,
		SnapshotHash: it.SnapshotHash,
		Revision:     it.Revision,
	}
	if q.Revision == 0 {
		q.Revision = 1
	}
	if q.CreatedAt, err = parseTime(it.CreatedAt); err != nil {
		return nil, err
	}
	if q.UpdatedAt, err = parseTime(it.UpdatedAt); err != nil {
		return nil, err
	}
	if it.FinalizedAt != "" {
		if q.FinalizedAt, err = parseTime(it.FinalizedAt); err != nil {
			return nil, err
		}
	}
	return q, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func observe(op string, start time.Time, err error) {
	result := metrics.ResultSuccess
	switch {
	case err == nil:
	case quote.IsRejection(err):
		result = metrics.ResultRejected
	default:
		result = metrics.ResultError
	}
	metrics.ObserveStorageQuery(op, result, time.Since(start))
}
