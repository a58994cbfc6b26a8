// Package store defines the domain records and repository interfaces the cron
// routes and link resolver read from. Implementations live in other packages;
// this package must not import database drivers or concrete clients.
package store
