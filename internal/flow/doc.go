// Package flow отдаёт определения flows оркестратору.
//
// Определения хранятся в PostgreSQL (см. repo.FlowRepo) и меняются
// редко, поэтому собранный Flow кэшируется в памяти на TTL
// (FLOW_CACHE_TTL). Удалённый или сломанный flow из кэша убирается.
package flow
