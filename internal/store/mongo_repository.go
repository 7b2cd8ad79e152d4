/**
 * @description
 * MongoDB implementation of Repository. Uniqueness is enforced by indexes
 * created in EnsureIndexes at startup; the conditional debit is a single
 * FindOneAndUpdate guarded by {balance: {$gte: amount}}. Multi-document
 * transactions need a replica set.
 *
 * @dependencies
 * - go.mongodb.org/mongo-driver: official MongoDB driver.
 * - github.com/shopspring/decimal: FX rates are stored as decimal strings.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/transfa/transfer-service/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	accountsCollection      = "accounts"
	beneficiariesCollection = "beneficiaries"
	transfersCollection     = "transfers"
)

type accountDocument struct {
	ID        string    `bson:"_id"`
	OwnerID   string    `bson:"owner_id"`
	Number    string    `bson:"number"`
	Currency  string    `bson:"currency"`
	Balance   int64     `bson:"balance"`
	Archived  bool      `bson:"archived"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

type snapshotDocument struct {
	BeneficiaryID string `bson:"beneficiary_id,omitempty"`
	Type          string `bson:"type"`
	Name          string `bson:"name"`
	Currency      string `bson:"currency,omitempty"`
	AccountNumber string `bson:"account_number,omitempty"`
	BankCode      string `bson:"bank_code,omitempty"`
	BranchCode    string `bson:"branch_code,omitempty"`
	BankName      string `bson:"bank_name,omitempty"`
	IBAN          string `bson:"iban,omitempty"`
	SwiftBIC      string `bson:"swift_bic,omitempty"`
	Country       string `bson:"country,omitempty"`
	Provider      string `bson:"provider,omitempty"`
	PhoneNumber   string `bson:"phone_number,omitempty"`
}

type beneficiaryDocument struct {
	ID             string           `bson:"_id"`
	OwnerID        string           `bson:"owner_id"`
	Type           string           `bson:"type"`
	Name           string           `bson:"name"`
	Currency       string           `bson:"currency"`
	Details        snapshotDocument `bson:"details"`
	DestinationKey string           `bson:"destination_key"`
	Archived       bool             `bson:"archived"`
	CreatedAt      time.Time        `bson:"created_at"`
	UpdatedAt      time.Time        `bson:"updated_at"`
}

type fxDocument struct {
	Rate            string `bson:"rate"`
	SourceCurrency  string `bson:"source_currency"`
	TargetCurrency  string `bson:"target_currency"`
	ConvertedAmount int64  `bson:"converted_amount"`
}

type transferDocument struct {
	ID             string           `bson:"_id"`
	OwnerID        string           `bson:"owner_id"`
	Kind           string           `bson:"kind"`
	SourceAccount  string           `bson:"source_account"`
	Amount         int64            `bson:"amount"`
	Currency       string           `bson:"currency"`
	Fee            int64            `bson:"fee"`
	FX             *fxDocument      `bson:"fx,omitempty"`
	Beneficiary    snapshotDocument `bson:"beneficiary"`
	Reference      string           `bson:"reference"`
	IdempotencyKey *string          `bson:"idempotency_key,omitempty"`
	Status         string           `bson:"status"`
	FailureReason  *string          `bson:"failure_reason,omitempty"`
	CreatedAt      time.Time        `bson:"created_at"`
	UpdatedAt      time.Time        `bson:"updated_at"`
}

// MongoRepository implements Repository against a MongoDB database.
type MongoRepository struct {
	client *mongo.Client
	db     *mongo.Database
}

// NewMongoRepository binds the repository to database on client.
func NewMongoRepository(client *mongo.Client, database string) *MongoRepository {
	return &MongoRepository{client: client, db: client.Database(database)}
}

// EnsureIndexes provisions the unique and lookup indexes. It is idempotent
// and runs once during service initialisation.
func (r *MongoRepository) EnsureIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		accountsCollection: {
			{
				Keys:    bson.D{{Key: "number", Value: 1}},
				Options: options.Index().SetUnique(true).SetName("uq_accounts_number"),
			},
			{
				Keys:    bson.D{{Key: "owner_id", Value: 1}},
				Options: options.Index().SetName("idx_accounts_owner_id"),
			},
		},
		beneficiariesCollection: {
			{
				Keys: bson.D{{Key: "owner_id", Value: 1}, {Key: "type", Value: 1}, {Key: "destination_key", Value: 1}},
				Options: options.Index().
					SetUnique(true).
					SetName("uq_beneficiaries_owner_destination").
					SetPartialFilterExpression(bson.M{"archived": false}),
			},
		},
		transfersCollection: {
			{
				Keys: bson.D{{Key: "owner_id", Value: 1}, {Key: "idempotency_key", Value: 1}},
				Options: options.Index().
					SetUnique(true).
					SetName("uq_transfers_owner_idempotency_key").
					SetPartialFilterExpression(bson.M{"idempotency_key": bson.M{"$type": "string"}}),
			},
			{
				Keys:    bson.D{{Key: "owner_id", Value: 1}, {Key: "created_at", Value: -1}},
				Options: options.Index().SetName("idx_transfers_owner_created_at"),
			},
			{
				Keys:    bson.D{{Key: "status", Value: 1}, {Key: "updated_at", Value: 1}},
				Options: options.Index().SetName("idx_transfers_status_updated_at"),
			},
		},
	}

	for collection, models := range indexes {
		if _, err := r.db.Collection(collection).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("ensure indexes on %s: %w", collection, err)
		}
	}
	return nil
}

// WithinTransaction runs fn inside a MongoDB session transaction. The driver
// may re-run fn on transient transaction errors.
func (r *MongoRepository) WithinTransaction(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error {
	if mongo.SessionFromContext(ctx) != nil {
		return fn(ctx, r)
	}

	session, err := r.client.StartSession()
	if err != nil {
		return err
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc, r)
	})
	return err
}

func utcNow() time.Time {
	return time.Now().UTC()
}

// Accounts

func toAccount(doc accountDocument) (*domain.Account, error) {
	id, err := uuid.Parse(doc.ID)
	if err != nil {
		return nil, fmt.Errorf("decode account id: %w", err)
	}
	return &domain.Account{
		ID:        id,
		OwnerID:   doc.OwnerID,
		Number:    doc.Number,
		Currency:  doc.Currency,
		Balance:   doc.Balance,
		Archived:  doc.Archived,
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}, nil
}

func (r *MongoRepository) findAccount(ctx context.Context, filter bson.M) (*domain.Account, error) {
	var doc accountDocument
	if err := r.db.Collection(accountsCollection).FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return toAccount(doc)
}

func (r *MongoRepository) CreateAccount(ctx context.Context, account *domain.Account) error {
	ts := utcNow()
	doc := accountDocument{
		ID:        account.ID.String(),
		OwnerID:   account.OwnerID,
		Number:    account.Number,
		Currency:  account.Currency,
		Balance:   account.Balance,
		CreatedAt: ts,
		UpdatedAt: ts,
	}
	if _, err := r.db.Collection(accountsCollection).InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateAccountNumber
		}
		return err
	}
	account.Archived = false
	account.CreatedAt = ts
	account.UpdatedAt = ts
	return nil
}

func (r *MongoRepository) FindAccount(ctx context.Context, ownerID, number string) (*domain.Account, error) {
	return r.findAccount(ctx, bson.M{"number": number, "owner_id": ownerID, "archived": false})
}

func (r *MongoRepository) FindAccountByNumber(ctx context.Context, number string) (*domain.Account, error) {
	return r.findAccount(ctx, bson.M{"number": number, "archived": false})
}

func (r *MongoRepository) ListAccountsByOwner(ctx context.Context, ownerID string) ([]domain.Account, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cursor, err := r.db.Collection(accountsCollection).Find(ctx, bson.M{"owner_id": ownerID, "archived": false}, opts)
	if err != nil {
		return nil, err
	}
	var docs []accountDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	accounts := make([]domain.Account, 0, len(docs))
	for _, doc := range docs {
		account, err := toAccount(doc)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *account)
	}
	return accounts, nil
}

func (r *MongoRepository) DecrementBalance(ctx context.Context, ownerID, number string, amount int64) (int64, error) {
	filter := bson.M{
		"number":   number,
		"owner_id": ownerID,
		"archived": false,
		"balance":  bson.M{"$gte": amount},
	}
	update := bson.M{
		"$inc": bson.M{"balance": -amount},
		"$set": bson.M{"updated_at": utcNow()},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc accountDocument
	if err := r.db.Collection(accountsCollection).FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, ErrConditionNotMet
		}
		return 0, err
	}
	return doc.Balance, nil
}

func (r *MongoRepository) IncrementBalance(ctx context.Context, number string, amount int64) (int64, error) {
	filter := bson.M{
		"number":   number,
		"archived": false,
		"balance":  bson.M{"$lte": math.MaxInt64 - amount},
	}
	update := bson.M{
		"$inc": bson.M{"balance": amount},
		"$set": bson.M{"updated_at": utcNow()},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc accountDocument
	if err := r.db.Collection(accountsCollection).FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			n, countErr := r.db.Collection(accountsCollection).CountDocuments(ctx, bson.M{"number": number, "archived": false})
			if countErr != nil {
				return 0, countErr
			}
			if n > 0 {
				return 0, ErrBalanceOverflow
			}
			return 0, ErrAccountNotFound
		}
		return 0, err
	}
	return doc.Balance, nil
}

func (r *MongoRepository) ArchiveAccount(ctx context.Context, ownerID, number string) error {
	res, err := r.db.Collection(accountsCollection).UpdateOne(ctx,
		bson.M{"number": number, "owner_id": ownerID, "archived": false},
		bson.M{"$set": bson.M{"archived": true, "updated_at": utcNow()}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// Beneficiaries

func toSnapshotDocument(s domain.BeneficiarySnapshot) snapshotDocument {
	doc := snapshotDocument{
		Type:          string(s.Type),
		Name:          s.Name,
		Currency:      s.Currency,
		AccountNumber: s.AccountNumber,
		BankCode:      s.BankCode,
		BranchCode:    s.BranchCode,
		BankName:      s.BankName,
		IBAN:          s.IBAN,
		SwiftBIC:      s.SwiftBIC,
		Country:       s.Country,
		Provider:      s.Provider,
		PhoneNumber:   s.PhoneNumber,
	}
	if s.BeneficiaryID != nil {
		doc.BeneficiaryID = s.BeneficiaryID.String()
	}
	return doc
}

func fromSnapshotDocument(doc snapshotDocument) (domain.BeneficiarySnapshot, error) {
	s := domain.BeneficiarySnapshot{
		Type:          domain.BeneficiaryType(doc.Type),
		Name:          doc.Name,
		Currency:      doc.Currency,
		AccountNumber: doc.AccountNumber,
		BankCode:      doc.BankCode,
		BranchCode:    doc.BranchCode,
		BankName:      doc.BankName,
		IBAN:          doc.IBAN,
		SwiftBIC:      doc.SwiftBIC,
		Country:       doc.Country,
		Provider:      doc.Provider,
		PhoneNumber:   doc.PhoneNumber,
	}
	if doc.BeneficiaryID != "" {
		id, err := uuid.Parse(doc.BeneficiaryID)
		if err != nil {
			return s, fmt.Errorf("decode snapshot beneficiary id: %w", err)
		}
		s.BeneficiaryID = &id
	}
	return s, nil
}

func toBeneficiary(doc beneficiaryDocument) (*domain.Beneficiary, error) {
	id, err := uuid.Parse(doc.ID)
	if err != nil {
		return nil, fmt.Errorf("decode beneficiary id: %w", err)
	}
	flat, err := fromSnapshotDocument(doc.Details)
	if err != nil {
		return nil, err
	}
	details, err := flat.Details()
	if err != nil {
		return nil, err
	}
	return &domain.Beneficiary{
		ID:        id,
		OwnerID:   doc.OwnerID,
		Name:      doc.Name,
		Currency:  doc.Currency,
		Details:   details,
		Archived:  doc.Archived,
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}, nil
}

func (r *MongoRepository) CreateBeneficiary(ctx context.Context, b *domain.Beneficiary) error {
	ts := utcNow()
	flat := domain.SnapshotOfInput(domain.BeneficiaryInput{Name: b.Name, Currency: b.Currency, Details: b.Details})
	doc := beneficiaryDocument{
		ID:             b.ID.String(),
		OwnerID:        b.OwnerID,
		Type:           string(b.Type()),
		Name:           b.Name,
		Currency:       b.Currency,
		Details:        toSnapshotDocument(flat),
		DestinationKey: b.Details.DestinationKey(),
		CreatedAt:      ts,
		UpdatedAt:      ts,
	}
	if _, err := r.db.Collection(beneficiariesCollection).InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateBeneficiary
		}
		return err
	}
	b.Archived = false
	b.CreatedAt = ts
	b.UpdatedAt = ts
	return nil
}

func (r *MongoRepository) FindBeneficiary(ctx context.Context, ownerID string, id uuid.UUID, typ domain.BeneficiaryType) (*domain.Beneficiary, error) {
	filter := bson.M{"_id": id.String(), "owner_id": ownerID, "archived": false}
	if typ != "" {
		filter["type"] = string(typ)
	}
	var doc beneficiaryDocument
	if err := r.db.Collection(beneficiariesCollection).FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrBeneficiaryNotFound
		}
		return nil, err
	}
	return toBeneficiary(doc)
}

func (r *MongoRepository) ListBeneficiaries(ctx context.Context, ownerID string, typ domain.BeneficiaryType) ([]domain.Beneficiary, error) {
	filter := bson.M{"owner_id": ownerID, "archived": false}
	if typ != "" {
		filter["type"] = string(typ)
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cursor, err := r.db.Collection(beneficiariesCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var docs []beneficiaryDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	beneficiaries := make([]domain.Beneficiary, 0, len(docs))
	for _, doc := range docs {
		b, err := toBeneficiary(doc)
		if err != nil {
			return nil, err
		}
		beneficiaries = append(beneficiaries, *b)
	}
	return beneficiaries, nil
}

func (r *MongoRepository) UpdateBeneficiaryName(ctx context.Context, ownerID string, id uuid.UUID, name string) (*domain.Beneficiary, error) {
	filter := bson.M{"_id": id.String(), "owner_id": ownerID, "archived": false}
	update := bson.M{"$set": bson.M{"name": name, "details.name": name, "updated_at": utcNow()}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc beneficiaryDocument
	if err := r.db.Collection(beneficiariesCollection).FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrBeneficiaryNotFound
		}
		return nil, err
	}
	return toBeneficiary(doc)
}

func (r *MongoRepository) ArchiveBeneficiary(ctx context.Context, ownerID string, id uuid.UUID) error {
	res, err := r.db.Collection(beneficiariesCollection).UpdateOne(ctx,
		bson.M{"_id": id.String(), "owner_id": ownerID, "archived": false},
		bson.M{"$set": bson.M{"archived": true, "updated_at": utcNow()}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrBeneficiaryNotFound
	}
	return nil
}

// Transfers

func toTransferDocument(t *domain.Transfer) transferDocument {
	doc := transferDocument{
		ID:             t.ID.String(),
		OwnerID:        t.OwnerID,
		Kind:           string(t.Kind),
		SourceAccount:  t.SourceAccount,
		Amount:         t.Amount,
		Currency:       t.Currency,
		Fee:            t.Fee,
		Beneficiary:    toSnapshotDocument(t.Beneficiary),
		Reference:      t.Reference,
		IdempotencyKey: t.IdempotencyKey,
		Status:         string(t.Status),
		FailureReason:  t.FailureReason,
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
	}
	if t.FX != nil {
		doc.FX = &fxDocument{
			Rate:            t.FX.Rate.String(),
			SourceCurrency:  t.FX.SourceCurrency,
			TargetCurrency:  t.FX.TargetCurrency,
			ConvertedAmount: t.FX.ConvertedAmount,
		}
	}
	return doc
}

func toTransfer(doc transferDocument) (*domain.Transfer, error) {
	id, err := uuid.Parse(doc.ID)
	if err != nil {
		return nil, fmt.Errorf("decode transfer id: %w", err)
	}
	snapshot, err := fromSnapshotDocument(doc.Beneficiary)
	if err != nil {
		return nil, err
	}
	t := &domain.Transfer{
		ID:             id,
		OwnerID:        doc.OwnerID,
		Kind:           domain.TransferKind(doc.Kind),
		SourceAccount:  doc.SourceAccount,
		Amount:         doc.Amount,
		Currency:       doc.Currency,
		Fee:            doc.Fee,
		Beneficiary:    snapshot,
		Reference:      doc.Reference,
		IdempotencyKey: doc.IdempotencyKey,
		Status:         domain.TransferStatus(doc.Status),
		FailureReason:  doc.FailureReason,
		CreatedAt:      doc.CreatedAt,
		UpdatedAt:      doc.UpdatedAt,
	}
	if doc.FX != nil {
		rate, err := decimal.NewFromString(doc.FX.Rate)
		if err != nil {
			return nil, fmt.Errorf("decode fx rate for transfer %s: %w", doc.ID, err)
		}
		t.FX = &domain.FX{
			Rate:            rate,
			SourceCurrency:  doc.FX.SourceCurrency,
			TargetCurrency:  doc.FX.TargetCurrency,
			ConvertedAmount: doc.FX.ConvertedAmount,
		}
	}
	return t, nil
}

func (r *MongoRepository) findTransfer(ctx context.Context, filter bson.M) (*domain.Transfer, error) {
	var doc transferDocument
	if err := r.db.Collection(transfersCollection).FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrTransferNotFound
		}
		return nil, err
	}
	return toTransfer(doc)
}

func (r *MongoRepository) findTransfers(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]domain.Transfer, error) {
	cursor, err := r.db.Collection(transfersCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var docs []transferDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	transfers := make([]domain.Transfer, 0, len(docs))
	for _, doc := range docs {
		t, err := toTransfer(doc)
		if err != nil {
			return nil, err
		}
		transfers = append(transfers, *t)
	}
	return transfers, nil
}

func (r *MongoRepository) InsertTransfer(ctx context.Context, t *domain.Transfer) error {
	ts := utcNow()
	t.CreatedAt = ts
	t.UpdatedAt = ts
	if _, err := r.db.Collection(transfersCollection).InsertOne(ctx, toTransferDocument(t)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateIdempotencyKey
		}
		return err
	}
	return nil
}

func (r *MongoRepository) FindTransfer(ctx context.Context, ownerID string, id uuid.UUID) (*domain.Transfer, error) {
	return r.findTransfer(ctx, bson.M{"_id": id.String(), "owner_id": ownerID})
}

func (r *MongoRepository) GetTransfer(ctx context.Context, id uuid.UUID) (*domain.Transfer, error) {
	return r.findTransfer(ctx, bson.M{"_id": id.String()})
}

func (r *MongoRepository) FindTransferByIdempotencyKey(ctx context.Context, ownerID, key string) (*domain.Transfer, error) {
	return r.findTransfer(ctx, bson.M{"owner_id": ownerID, "idempotency_key": key})
}

func (r *MongoRepository) ListTransfers(ctx context.Context, ownerID string, filter domain.ListTransfersFilter) ([]domain.Transfer, error) {
	filter = normalizeListFilter(filter)
	query := bson.M{"owner_id": ownerID}
	if filter.Status != nil {
		query["status"] = string(*filter.Status)
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(int64(filter.Offset)).
		SetLimit(int64(filter.Limit))
	return r.findTransfers(ctx, query, opts)
}

func (r *MongoRepository) TransitionTransferStatus(ctx context.Context, id uuid.UUID, from, to domain.TransferStatus, reason *string) (*domain.Transfer, error) {
	set := bson.M{"status": string(to), "updated_at": utcNow()}
	if reason != nil {
		set["failure_reason"] = *reason
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc transferDocument
	err := r.db.Collection(transfersCollection).FindOneAndUpdate(ctx,
		bson.M{"_id": id.String(), "status": string(from)},
		bson.M{"$set": set},
		opts,
	).Decode(&doc)
	if err == nil {
		return toTransfer(doc)
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, err
	}

	if _, err := r.GetTransfer(ctx, id); err != nil {
		return nil, err
	}
	return nil, ErrConditionNotMet
}

func (r *MongoRepository) FindStaleTransfers(ctx context.Context, status domain.TransferStatus, updatedBefore time.Time, limit int) ([]domain.Transfer, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "updated_at", Value: 1}}).
		SetLimit(int64(limit))
	return r.findTransfers(ctx, bson.M{"status": string(status), "updated_at": bson.M{"$lt": updatedBefore}}, opts)
}
