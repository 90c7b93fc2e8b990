// Package giftwrap implements sealed invitations: three nested event layers
// that deliver a statement to exactly one recipient.
//
//  1. Rumor: the unsigned inner statement. It carries a valid id but no
//     signature, so it cannot be published or attributed on its own.
//  2. Seal (kind 13): the rumor encrypted to the recipient and signed by the
//     sender's real identity. Only the recipient learns who wrote it.
//  3. Gift wrap (kind 1059): the seal encrypted again and signed by a
//     single-use key. The only clear-text hint is the recipient "p" tag.
//
// Seal and gift wrap timestamps are pushed a random amount into the past,
// up to MaxSkew, so receivers must subscribe with a wider lookback window.
package giftwrap
