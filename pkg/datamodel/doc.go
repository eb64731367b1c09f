// Package datamodel implements the HAP attribute database: the tree of
// accessories, services and characteristics (HAP Chapter 6) with
// instance-id allocation, boot-time validation, JSON projection and
// the staged two-pass write transaction behind PUT /characteristics.
package datamodel
