package database

import (
	"context"
	"log"
	"os"
	"time"

	"consulta/config"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoClient is the global MongoDB client instance.
var MongoClient *mongo.Client

// InitDB initializes the MongoDB connection.
func InitDB() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clientOptions := options.Client().ApplyURI(config.AppConfig.DatabaseURL)
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		log.Printf("failed to connect to MongoDB: %v", err)
		os.Exit(2)
	}
	if err := client.Ping(ctx, nil); err != nil {
		log.Printf("failed to ping MongoDB: %v", err)
		os.Exit(2)
	}
	MongoClient = client
	log.Println("Connected to MongoDB successfully!")
}

// DB returns the "consulta" database handle on the global client.
func DB() *mongo.Database {
	return MongoClient.Database("consulta")
}
