/*
Package storage holds the persistence layers of wsiview: a byte-bounded cache of series
metadata, an archive of parsed instance lists in blob storage (Google Cloud Storage, local
files, or memory), and the optional Kafka activity log.
*/
package storage
