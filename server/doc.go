/*
Package server provides the HTTP interface to wsiview: viewing sessions that open the
slide series of a DICOMweb study as a tile pyramid, tile and tile URL requests, and
browsing of Google Cloud Healthcare API projects.

Settings are read from a TOML file via LoadConfig.  See the help returned by
GET /api/help for the available endpoints.
*/
package server
