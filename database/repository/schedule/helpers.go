package schedule

import "go.mongodb.org/mongo-driver/mongo/options"

func mongoUpsert() *options.ReplaceOptions {
	return options.Replace().SetUpsert(true)
}
