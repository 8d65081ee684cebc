// Package sqlstore persists credentials and subscription records with bun.
package sqlstore
