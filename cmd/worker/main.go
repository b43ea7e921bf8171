// Command worker boots the Job Runtime: the asynq server that drains
// webhook-derived payment and calendar-identity tasks, plus the
// cron/v3-driven sweep/reminder cadences. Wiring mirrors cmd/server's,
// since both processes share the same domain services against the same
// MongoDB and Redis deployments.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"consulta/availability"
	"consulta/calendar"
	"consulta/config"
	"consulta/database"
	"consulta/database/repository/meeting"
	"consulta/database/repository/reservation"
	"consulta/database/repository/schedule"
	"consulta/database/repository/transfer"
	"consulta/jobs"
	"consulta/models"
	meetingsvc "consulta/services/meeting"
	"consulta/services/payment"
	"consulta/services/payout"
	reservationsvc "consulta/services/reservation"
	"consulta/utils"

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
		time.Duration(config.AppConfig.DefaultReservationTTLMin)*time.Minute, config.AppConfig.VoucherGraceMinutes)

	lookupCountry := func(accountID models.PaymentAccountID) string {
		expert, err := schedules.GetExpertByPayoutAccount(context.Background(), accountID)
		if err != nil {
			return ""
		}
		return expert.Country
	}

	rt := jobs.NewRuntime(payments, reservationMgr, payoutScheduler, nil, nil, idempotency, lookupCountry)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cronScheduler, err := rt.RunScheduler(ctx)
	if err != nil {
		logger.Fatal("failed to start cron scheduler", zap.Error(err))
	}
	defer cronScheduler.Stop()

	go func() {
		<-ctx.Done()
		logger.Info("job runtime shutting down")
	}()

	redisOpt := asynq.RedisClientOpt{
		Addr:     config.AppConfig.RedisAddr,
		Password: config.AppConfig.RedisPassword,
		DB:       config.AppConfig.RedisJobQueueDB,
	}

	logger.Info("job runtime starting")
	if err := rt.Run(redisOpt); err != nil {
		logger.Fatal("job runtime exited", zap.Error(err))
	}
}
