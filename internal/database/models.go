package database

type Team struct {
	UID     string `yaml:"uid"`
	Name    string `yaml:"name"`
	LogoURL string `yaml:"logo_url"`
}

type Member struct {
	UID      string `yaml:"uid"`
	Name     string `yaml:"name"`
	Email    string `yaml:"email"`
	ImageURL string `yaml:"image_url"`
	TeamUID  string `yaml:"team_uid"`
}
