package calendar

import (
	"context"
	"errors"
	"time"

	"consulta/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/oauth2"
)

// storedToken is the Mongo-persisted shape of an oauth2.Token, dual-tagged
// the way every other repository document in this module is.
type storedToken struct {
	ExpertID     models.ExpertID `bson:"id" json:"id"`
	AccessToken  string          `bson:"accessToken" json:"accessToken"`
	RefreshToken string          `bson:"refreshToken,omitempty" json:"refreshToken,omitempty"`
	TokenType    string          `bson:"tokenType,omitempty" json:"tokenType,omitempty"`
	Expiry       time.Time       `bson:"expiry,omitempty" json:"expiry,omitempty"`
}

// MongoTokenStore is the production TokenStore, grounded on the same
// FindOne/ReplaceOne-with-upsert idiom the Schedule Store's MongoRepository
// uses.
type MongoTokenStore struct {
	tokens *mongo.Collection
}

// NewMongoTokenStore wires the calendarTokens collection off db.
func NewMongoTokenStore(db *mongo.Database) *MongoTokenStore {
	return &MongoTokenStore{tokens: db.Collection("calendarTokens")}
}

func (s *MongoTokenStore) Load(ctx context.Context, expertID models.ExpertID) (*oauth2.Token, error) {
	var st storedToken
	if err := s.tokens.FindOne(ctx, bson.M{"id": expertID}).Decode(&st); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, errors.New("no calendar token stored for expert")
		}
		return nil, err
	}
	return &oauth2.Token{
		AccessToken:  st.AccessToken,
		RefreshToken: st.RefreshToken,
		TokenType:    st.TokenType,
		Expiry:       st.Expiry,
	}, nil
}

func (s *MongoTokenStore) Save(ctx context.Context, expertID models.ExpertID, tok *oauth2.Token) error {
	st := storedToken{
		ExpertID:     expertID,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Expiry:       tok.Expiry,
	}
	_, err := s.tokens.ReplaceOne(ctx, bson.M{"id": expertID}, st, options.Replace().SetUpsert(true))
	return err
}
