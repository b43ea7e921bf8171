// Command server boots the HTTP surface: availability lookups,
// reservation holds, meeting listing/cancellation, and the inbound
// webhook/cron-trigger endpoints. Bootstrap order: config, logger,
// database, then every domain service, then routes.
package main

import (
	"context"
	"log"
	"time"

	"consulta/availability"
	"consulta/calendar"
	"consulta/config"
	"consulta/database"
	"consulta/database/repository/meeting"
	"consulta/database/repository/reservation"
	"consulta/database/repository/schedule"
	"consulta/database/repository/transfer"
	"consulta/handlers"
	"consulta/jobs"
	"consulta/middleware"
	"consulta/models"
	meetingsvc "consulta/services/meeting"
	"consulta/services/payment"
	"consulta/services/payout"
	reservationsvc "consulta/services/reservation"
	"consulta/routes"
	"consulta/utils"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"
	"github.com/stripe/stripe-go/v76"
	"go.uber.org/zap"
)

func main() {
	if err := config.LoadConfig(); err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := utils.GetLogger()
	defer logger.Sync()

	database.InitDB()
	db := database.DB()

	stripe.Key = config.AppConfig.StripeKey

	cache := utils.GetCacheClient()
	lock := utils.GetLockClient()
	idempotency := utils.GetIdempotencyClient()

	schedules := schedule.NewMongoRepository(db)
	reservations := reservation.NewMongoRepository(db)
	meetings := meeting.NewMongoRepository(db)
	transfers := transfer.NewMongoRepository(db)

	tokens := calendar.NewMongoTokenStore(db)
	oauthConfig := calendar.OAuthConfig(
		config.AppConfig.GoogleOAuthClientID,
		config.AppConfig.GoogleOAuthClientSecret,
		config.AppConfig.GoogleOAuthRedirectURL)
	calGateway := calendar.New(oauthConfig, tokens, config.AppConfig.GoogleAPIKey)

	availabilityEngine := availability.New(schedules, reservations, meetings, calGateway)

	payments := payment.New(reservations, cache, idempotency, config.AppConfig.FeeRate,
		config.AppConfig.PaymentSuccessURL, config.AppConfig.PaymentCancelURL,
		config.AppConfig.VoucherGraceMinutes)

	payoutScheduler := payout.New(transfers, meetings, config.AppConfig.PayoutDelayByCountry, config.AppConfig.PayoutDelayDays("DEFAULT"), logger)
	meetingLedger := meetingsvc.New(meetings, calGateway, payoutScheduler, logger)

	reservationMgr := reservationsvc.New(reservations, meetings, schedules, availabilityEngine, payments,
		meetingLedger, payoutScheduler, lock, config.AppConfig.FeeRate,
		time.Duration(config.AppConfig.DefaultReservationTTLMin)*time.Minute,
		config.AppConfig.VoucherGraceMinutes)

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     config.AppConfig.RedisAddr,
		Password: config.AppConfig.RedisPassword,
		DB:       config.AppConfig.RedisJobQueueDB,
	})
	defer asynqClient.Close()

	lookupCountry := func(accountID models.PaymentAccountID) string {
		expert, err := schedules.GetExpertByPayoutAccount(context.Background(), accountID)
		if err != nil {
			return ""
		}
		return expert.Country
	}
	jobRuntime := jobs.NewRuntime(payments, reservationMgr, payoutScheduler, nil, nil, idempotency, lookupCountry)

	handlers.SetAvailabilityDeps(availabilityEngine, schedules)
	handlers.SetCalendarGateway(calGateway)
	handlers.SetReservationManager(reservationMgr)
	handlers.SetMeetingLedger(meetingLedger)
	handlers.SetAsynqClient(asynqClient)
	handlers.SetJobRuntime(jobRuntime)

	utils.StartHealthMonitor([]*redis.Client{cache, lock, idempotency}, database.MongoClient)

	if config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(utils.ErrorHandler())
	router.Use(gin.Logger())
	router.Use(middleware.RateLimitMiddleware())

	routes.RegisterRoutes(router)

	addr := ":" + config.AppConfig.AppPort
	logger.Info("starting server", zap.String("addr", addr))
	if err := router.Run(addr); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}
