package transfer

import (
	"context"
	"errors"
	"time"

	"consulta/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoRepository struct {
	col *mongo.Collection
}

func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{col: db.Collection("paymentTransfers")}
}

func (r *MongoRepository) Create(ctx context.Context, t models.PaymentTransfer) error {
	_, err := r.col.InsertOne(ctx, t)
	return err
}

func (r *MongoRepository) Get(ctx context.Context, id models.TransferID) (*models.PaymentTransfer, error) {
	var t models.PaymentTransfer
	if err := r.col.FindOne(ctx, bson.M{"id": id}).Decode(&t); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (r *MongoRepository) GetByMeeting(ctx context.Context, meetingID models.MeetingID) (*models.PaymentTransfer, error) {
	var t models.PaymentTransfer
	if err := r.col.FindOne(ctx, bson.M{"meetingId": meetingID}).Decode(&t); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (r *MongoRepository) ListEligible(ctx context.Context, now time.Time) ([]models.PaymentTransfer, error) {
	cur, err := r.col.Find(ctx, bson.M{
		"status":      bson.M{"$in": []models.TransferStatus{models.TransferPending, models.TransferApproved}},
		"scheduledAt": bson.M{"$lte": now},
	})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.PaymentTransfer
	for cur.Next(ctx) {
		var t models.PaymentTransfer
		if err := cur.Decode(&t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, cur.Err()
}

func (r *MongoRepository) ClaimForDisbursement(ctx context.Context, id models.TransferID, now time.Time, leaseFor time.Duration) (bool, error) {
	res := r.col.FindOneAndUpdate(ctx,
		bson.M{
			"id":     id,
			"status": bson.M{"$in": []models.TransferStatus{models.TransferPending, models.TransferApproved}},
			"$or": []bson.M{
				{"claimedUntil": bson.M{"$exists": false}},
				{"claimedUntil": bson.M{"$lte": now}},
			},
		},
		bson.M{"$set": bson.M{"claimedUntil": now.Add(leaseFor)}},
	)
	if err := res.Err(); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *MongoRepository) MarkCompleted(ctx context.Context, id models.TransferID, providerTransferID string, at time.Time) error {
	_, err := r.col.UpdateOne(ctx, bson.M{"id": id}, bson.M{"$set": bson.M{
		"status": models.TransferCompleted, "providerTransferId": providerTransferID, "updatedAt": at,
	}})
	return err
}

func (r *MongoRepository) MarkFailed(ctx context.Context, id models.TransferID, errMsg string, at time.Time) error {
	_, err := r.col.UpdateOne(ctx, bson.M{"id": id}, bson.M{"$set": bson.M{
		"status": models.TransferFailed, "lastError": errMsg, "updatedAt": at,
	}})
	return err
}

func (r *MongoRepository) IncrementRetry(ctx context.Context, id models.TransferID, errMsg string, at time.Time) (int, error) {
	var t models.PaymentTransfer
	err := r.col.FindOneAndUpdate(ctx,
		bson.M{"id": id},
		bson.M{"$inc": bson.M{"retryCount": 1}, "$set": bson.M{"lastError": errMsg, "updatedAt": at}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&t)
	if err != nil {
		return 0, err
	}
	return t.RetryCount, nil
}

func (r *MongoRepository) MarkCancelled(ctx context.Context, id models.TransferID, at time.Time) (bool, error) {
	res := r.col.FindOneAndUpdate(ctx,
		bson.M{"id": id, "status": bson.M{"$in": []models.TransferStatus{models.TransferPending, models.TransferApproved}}},
		bson.M{"$set": bson.M{"status": models.TransferCancelled, "updatedAt": at}},
	)
	if err := res.Err(); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *MongoRepository) Approve(ctx context.Context, id models.TransferID, at time.Time) (bool, error) {
	res := r.col.FindOneAndUpdate(ctx,
		bson.M{"id": id, "status": models.TransferPending, "requiresApproval": true},
		bson.M{"$set": bson.M{"status": models.TransferApproved, "updatedAt": at}},
	)
	if err := res.Err(); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
