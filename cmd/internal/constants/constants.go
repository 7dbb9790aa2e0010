package constants

const (
	// WebRootInContainer is where the php container mounts the wordpress directory of a website
	WebRootInContainer = "/var/www/html"
	// WebOwner is the owner applied to restored wordpress files
	WebOwner = "www-data:www-data"
	// PHPContainerSuffix is appended to the website name to get its php container
	PHPContainerSuffix = "-php"

	// ComposeDirName is the directory below a website holding its compose project
	ComposeDirName = "docker-compose"
	// ComposeFileName is the compose file of a website
	ComposeFileName = "docker-compose.yml"

	// ExtractDirName is the scratch directory below a website used while restoring its files
	ExtractDirName = "temp_extract"
)
