// Package membership adds members to groups and leaves them.
package membership
