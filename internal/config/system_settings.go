package config

import (
	"os"
	"strconv"
)

const DATABASE_TYPE = "OFLOW_DATABASE_TYPE"
const DATABASE_URL = "OFLOW_DATABASE_URL"
const DATABASE_SQLLITE_FILE_NAME = "OFLOW_DATABASE_SQLLITE_FILE_NAME"
const ENGINE_SERVER_WEB_PORT = "OFLOW_ENGINE_SERVER_WEB_PORT"
const ENGINE_CHECK_DB_INTERVAL = "OFLOW_ENGINE_CHECK_DB_INTERVAL"
const ENGINE_STUCK_ENROLLMENTS_INTERVAL = "OFLOW_ENGINE_STUCK_ENROLLMENTS_INTERVAL"
const ENGINE_STUCK_ENROLLMENTS_REPAIR_AFTER_MINUTES = "OFLOW_ENGINE_STUCK_ENROLLMENTS_REPAIR_AFTER_MINUTES"
const ENGINE_BATCH_SIZE = "OFLOW_ENGINE_BATCH_SIZE"                 //number of due enrollments to pull from the database at a time
const ENGINE_WORKER_COUNT = "OFLOW_ENGINE_WORKER_COUNT"             //number of workers, work is partitioned across them by enrollment id
const ENGINE_ORG_DISPATCH_LIMIT = "OFLOW_ENGINE_ORG_DISPATCH_LIMIT" //max concurrent outbound calls per organization
const ENGINE_WEBHOOK_TIMEOUT = "OFLOW_ENGINE_WEBHOOK_TIMEOUT"       //outbound webhook call timeout
const ENGINE_DISPATCH_MAX_ATTEMPTS = "OFLOW_ENGINE_DISPATCH_MAX_ATTEMPTS"
const ENGINE_DISPATCH_RETRY_BASE = "OFLOW_ENGINE_DISPATCH_RETRY_BASE" //base delay for exponential backoff
const ENGINE_DISPATCH_RETRY_CAP = "OFLOW_ENGINE_DISPATCH_RETRY_CAP"   //cap on the backoff delay
const CONTACT_STORE_BASE_URL = "OFLOW_CONTACT_STORE_BASE_URL"
const SCENARIO_SERVICE_BASE_URL = "OFLOW_SCENARIO_SERVICE_BASE_URL"
const EXECUTOR_NAME = "OFLOW_EXECUTOR_NAME"

const DATABASE_TYPE_POSTGRES = "POSTGRES"
const DATABASE_TYPE_MYSQL = "MYSQL"
const DATABASE_TYPE_SQLLITE = "SQLLITE"

func GetSystemSettingInteger(settingKey string) int {
	val := GetSystemSettingString(settingKey)
	if val != "" {
		intValue, _ := strconv.Atoi(val)
		return intValue
	}
	return 0
}

func GetSystemSettingString(settingKey string) string {
	val := os.Getenv(settingKey)
	if val != "" {
		return val
	}
	if settingKey == ENGINE_CHECK_DB_INTERVAL {
		return "60s" // one scheduler tick per minute
	}
	if settingKey == ENGINE_STUCK_ENROLLMENTS_INTERVAL {
		return "60s"
	}
	if settingKey == ENGINE_STUCK_ENROLLMENTS_REPAIR_AFTER_MINUTES {
		return "5"
	}
	if settingKey == ENGINE_BATCH_SIZE {
		return "50"
	}
	if settingKey == ENGINE_WORKER_COUNT {
		return "5"
	}
	if settingKey == ENGINE_ORG_DISPATCH_LIMIT {
		return "4"
	}
	if settingKey == ENGINE_WEBHOOK_TIMEOUT {
		return "10s"
	}
	if settingKey == ENGINE_DISPATCH_MAX_ATTEMPTS {
		return "5"
	}
	if settingKey == ENGINE_DISPATCH_RETRY_BASE {
		return "30s"
	}
	if settingKey == ENGINE_DISPATCH_RETRY_CAP {
		return "30m"
	}
	if settingKey == ENGINE_SERVER_WEB_PORT {
		return "8080"
	}
	if settingKey == DATABASE_SQLLITE_FILE_NAME {
		return "./outflow.db"
	}
	return ""
}
