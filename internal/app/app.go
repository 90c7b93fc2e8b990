package app

import "huddle/internal/domain"

// App is the set of services acting for one unlocked identity.
type App struct {
	Me          domain.Identity
	CipherSuite domain.CipherSuite
	Invites     domain.InviteService
	Sessions    domain.SessionService
	Welcomes    domain.WelcomeService
	Groups      domain.GroupService
	Messages    domain.MessageService
	Membership  domain.MembershipService
}

func New(
	me domain.Identity,
	suite domain.CipherSuite,
	invites domain.InviteService,
	sessions domain.SessionService,
	welcomes domain.WelcomeService,
	groups domain.GroupService,
	messages domain.MessageService,
	membership domain.MembershipService,
) *App {
	return &App{
		Me:          me,
		CipherSuite: suite,
		Invites:     invites,
		Sessions:    sessions,
		Welcomes:    welcomes,
		Groups:      groups,
		Messages:    messages,
		Membership:  membership,
	}
}
