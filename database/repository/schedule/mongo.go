package schedule

import (
	"context"
	"errors"

	"consulta/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// MongoRepository is the production Schedule Store: one collection per
// entity, bson.M filters, ErrNoDocuments translated to ErrNotFound.
type MongoRepository struct {
	experts      *mongo.Collection
	schedules    *mongo.Collection
	blockedDates *mongo.Collection
	events       *mongo.Collection
}

// NewMongoRepository wires collections off the given database handle.
func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{
		experts:      db.Collection("experts"),
		schedules:    db.Collection("schedules"),
		blockedDates: db.Collection("blockedDates"),
		events:       db.Collection("events"),
	}
}

func (r *MongoRepository) GetExpert(ctx context.Context, id models.ExpertID) (*models.Expert, error) {
	var e models.Expert
	if err := r.experts.FindOne(ctx, bson.M{"id": id}).Decode(&e); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &e, nil
}

func (r *MongoRepository) GetExpertByPayoutAccount(ctx context.Context, accountID models.PaymentAccountID) (*models.Expert, error) {
	var e models.Expert
	if err := r.experts.FindOne(ctx, bson.M{"payoutAccountId": accountID}).Decode(&e); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &e, nil
}

func (r *MongoRepository) LoadSchedule(ctx context.Context, expertID models.ExpertID) (*models.Schedule, error) {
	var s models.Schedule
	if err := r.schedules.FindOne(ctx, bson.M{"expertId": expertID}).Decode(&s); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

func (r *MongoRepository) SaveSchedule(ctx context.Context, sched models.Schedule) error {
	if err := ValidateSchedule(sched); err != nil {
		return err
	}
	seen := make(map[int]bool)
	for _, w := range sched.Windows {
		seen[int(w.Weekday)] = true
	}
	if len(seen) == 0 || len(seen) > 7 {
		return errors.New("schedule must cover between 1 and 7 distinct weekdays")
	}
	_, err := r.schedules.ReplaceOne(ctx,
		bson.M{"expertId": sched.ExpertID},
		bson.M{"expertId": sched.ExpertID, "windows": sched.Windows},
		mongoUpsert())
	return err
}

func (r *MongoRepository) LoadPolicy(ctx context.Context, expertID models.ExpertID) (models.BookingPolicy, error) {
	expert, err := r.GetExpert(ctx, expertID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return models.DefaultBookingPolicy, nil
		}
		return models.BookingPolicy{}, err
	}
	if expert.PolicyOverride == nil {
		return models.DefaultBookingPolicy, nil
	}
	return expert.PolicyOverride.WithDefaults(), nil
}

func (r *MongoRepository) ListBlockedDates(ctx context.Context, expertID models.ExpertID, fromLocalDate, toLocalDate string) (map[string]bool, error) {
	cur, err := r.blockedDates.Find(ctx, bson.M{
		"expertId":  expertID,
		"localDate": bson.M{"$gte": fromLocalDate, "$lte": toLocalDate},
	})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := make(map[string]bool)
	for cur.Next(ctx) {
		var bd models.BlockedDate
		if err := cur.Decode(&bd); err != nil {
			return nil, err
		}
		out[bd.LocalDate] = true
	}
	return out, cur.Err()
}

func (r *MongoRepository) GetEvent(ctx context.Context, id models.EventID) (*models.Event, error) {
	var e models.Event
	if err := r.events.FindOne(ctx, bson.M{"id": id}).Decode(&e); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &e, nil
}
